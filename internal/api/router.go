package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/auth"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/medical"
	"github.com/hackgods/clinica/internal/observability/metrics"
	"github.com/hackgods/clinica/internal/patient"
)

// SchedulingService is the scheduling engine as the HTTP layer sees it.
type SchedulingService interface {
	CreateAppointment(ctx context.Context, cmd appointment.CreateCommand) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, cmd appointment.RescheduleCommand) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id, actor uuid.UUID) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, id, actor uuid.UUID) (*appointment.Appointment, error)
	AttendAppointment(ctx context.Context, id, actor uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, int, error)
	CheckConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*appointment.Appointment, error)

	ListDoctors(ctx context.Context, specialtyID *uuid.UUID) ([]appointment.DoctorWithSchedules, error)
	ComputeAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time) (*appointment.Availability, error)
	ParseDay(date string) (time.Time, error)
	SetWeeklySchedule(ctx context.Context, ws appointment.WeeklySchedule, actor uuid.UUID) (*appointment.WeeklySchedule, error)
	CreateScheduleBlock(ctx context.Context, cmd appointment.BlockCommand) (*appointment.ScheduleBlock, error)
	ListScheduleBlocks(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]appointment.ScheduleBlock, error)
}

// BillingService is the invoice ledger as the HTTP layer sees it.
type BillingService interface {
	CreateInvoice(ctx context.Context, cmd billing.CreateInvoiceCommand) (*billing.Invoice, error)
	IssueInvoice(ctx context.Context, id, actor uuid.UUID) (*billing.Invoice, error)
	CancelInvoice(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*billing.Invoice, error)
	RecordPayment(ctx context.Context, cmd billing.PaymentCommand) (*billing.PaymentResult, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, int, error)
	AccountsReceivable(ctx context.Context) ([]billing.Receivable, error)
	ListCatalog(ctx context.Context, f billing.CatalogFilter) ([]billing.CatalogItem, error)
	CreateCatalogItem(ctx context.Context, cmd billing.CatalogCommand) (*billing.CatalogItem, error)
}

type PatientService interface {
	CreatePatient(ctx context.Context, d patient.Details, actor uuid.UUID) (*patient.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	ListPatients(ctx context.Context, f patient.Filter) ([]patient.Patient, int, error)
	UpdatePatient(ctx context.Context, id uuid.UUID, d patient.Details, actor uuid.UUID) (*patient.Patient, error)
	DeletePatient(ctx context.Context, id, actor uuid.UUID) error
}

type MedicalService interface {
	StartAttention(ctx context.Context, cmd medical.StartCommand) (*medical.Attention, error)
	UpdateAttention(ctx context.Context, cmd medical.UpdateCommand) (*medical.Record, error)
	CloseAttention(ctx context.Context, id uuid.UUID, doctor *uuid.UUID, actor uuid.UUID) (*medical.Attention, error)
	AddAmendment(ctx context.Context, cmd medical.AmendCommand) (*medical.Note, error)
	GetAttention(ctx context.Context, id uuid.UUID) (*medical.Record, error)
	ListAttentions(ctx context.Context, f medical.Filter) ([]medical.Attention, int, error)
}

type AuthService interface {
	Authenticator
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, p *auth.Principal) error
	ChangePassword(ctx context.Context, p *auth.Principal, current, next string) error
}

type AuditLog interface {
	Query(ctx context.Context, f audit.Filter) (*audit.Page, error)
	Modules(ctx context.Context) ([]string, error)
}

type RouterConfig struct {
	Scheduling SchedulingService
	Billing    BillingService
	Patients   PatientService
	Medical    MedicalService
	Auth       AuthService
	Audit      AuditLog
	Health     *HealthHandler
	Metrics    *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Logger         *zap.Logger
	Location       *time.Location
	CORSOrigins    []string
	ServiceName    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "clinica-api"
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))
	r.Use(TracingMiddleware(cfg.ServiceName))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(CORSMiddleware(cfg.CORSOrigins))
	r.Use(AuditInfoMiddleware)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	loc := cfg.Location
	perm := RequirePermission

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/auth/login", loginHandler(cfg.Auth))

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Auth))

			r.Get("/auth/me", meHandler())
			r.Post("/auth/logout", logoutHandler(cfg.Auth))
			r.Put("/auth/change-password", changePasswordHandler(cfg.Auth))

			r.Route("/patients", func(r chi.Router) {
				r.With(perm(auth.ModulePatients, auth.ActionRead)).Get("/", listPatientsHandler(cfg.Patients))
				r.With(perm(auth.ModulePatients, auth.ActionCreate)).Post("/", createPatientHandler(cfg.Patients))
				r.With(perm(auth.ModulePatients, auth.ActionRead)).Get("/{id}", getPatientHandler(cfg.Patients))
				r.With(perm(auth.ModulePatients, auth.ActionUpdate)).Put("/{id}", updatePatientHandler(cfg.Patients))
				r.With(perm(auth.ModulePatients, auth.ActionDelete)).Delete("/{id}", deletePatientHandler(cfg.Patients))
			})

			r.Route("/medical/attentions", func(r chi.Router) {
				r.With(perm(auth.ModuleMedical, auth.ActionRead)).Get("/", listAttentionsHandler(cfg.Medical))
				r.With(perm(auth.ModuleMedical, auth.ActionCreate)).Post("/", startAttentionHandler(cfg.Medical))
				r.With(perm(auth.ModuleMedical, auth.ActionRead)).Get("/{id}", getAttentionHandler(cfg.Medical))
				r.With(perm(auth.ModuleMedical, auth.ActionUpdate)).Put("/{id}", updateAttentionHandler(cfg.Medical))
				r.With(perm(auth.ModuleMedical, auth.ActionUpdate)).Put("/{id}/close", closeAttentionHandler(cfg.Medical))
				r.With(perm(auth.ModuleMedical, auth.ActionCreate)).Post("/{id}/amendment", amendmentHandler(cfg.Medical))
			})

			r.Route("/doctors", func(r chi.Router) {
				r.Get("/", listDoctorsHandler(cfg.Scheduling))
				r.Get("/{id}/availability", availabilityHandler(cfg.Scheduling))
				r.With(perm(auth.ModuleAdmin, auth.ActionUpdate)).Put("/{id}/schedules/{day}", setScheduleHandler(cfg.Scheduling))
				r.With(perm(auth.ModuleAppointments, auth.ActionRead)).Get("/{id}/blocks", listBlocksHandler(cfg.Scheduling, loc))
				r.With(perm(auth.ModuleAppointments, auth.ActionUpdate)).Post("/{id}/blocks", createBlockHandler(cfg.Scheduling, loc))
			})

			r.Route("/appointments", func(r chi.Router) {
				r.With(perm(auth.ModuleAppointments, auth.ActionRead)).Get("/", listAppointmentsHandler(cfg.Scheduling, loc))
				r.With(perm(auth.ModuleAppointments, auth.ActionRead)).Get("/conflicts", checkConflictHandler(cfg.Scheduling, loc))
				r.With(perm(auth.ModuleAppointments, auth.ActionCreate)).Post("/", createAppointmentHandler(cfg.Scheduling, loc))
				r.With(perm(auth.ModuleAppointments, auth.ActionRead)).Get("/{id}", getAppointmentHandler(cfg.Scheduling))

				r.Group(func(r chi.Router) {
					r.Use(perm(auth.ModuleAppointments, auth.ActionUpdate))
					r.Put("/{id}/reschedule", rescheduleHandler(cfg.Scheduling, loc))
					r.Put("/{id}/cancel", cancelAppointmentHandler(cfg.Scheduling))
					r.Put("/{id}/confirm", statusHandler(cfg.Scheduling, SchedulingService.ConfirmAppointment))
					r.Put("/{id}/no-show", statusHandler(cfg.Scheduling, SchedulingService.MarkNoShow))
					r.Put("/{id}/attend", statusHandler(cfg.Scheduling, SchedulingService.AttendAppointment))
				})
			})

			r.Route("/billing", func(r chi.Router) {
				r.Get("/services", listServicesHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionCreate)).Post("/services", createServiceHandler(cfg.Billing))

				r.With(perm(auth.ModuleBilling, auth.ActionRead)).Get("/invoices", listInvoicesHandler(cfg.Billing, loc))
				r.With(perm(auth.ModuleBilling, auth.ActionCreate)).Post("/invoices", createInvoiceHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionRead)).Get("/invoices/{id}", getInvoiceHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionUpdate)).Put("/invoices/{id}/issue", issueInvoiceHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionUpdate)).Put("/invoices/{id}/cancel", cancelInvoiceHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionCreate)).Post("/invoices/{id}/payments", recordPaymentHandler(cfg.Billing))
				r.With(perm(auth.ModuleBilling, auth.ActionRead)).Get("/accounts-receivable", receivablesHandler(cfg.Billing))
			})

			r.Route("/audit", func(r chi.Router) {
				r.Use(perm(auth.ModuleAudit, auth.ActionRead))
				r.Get("/", listAuditHandler(cfg.Audit, loc))
				r.Get("/modules", auditModulesHandler(cfg.Audit))
			})
		})
	})

	return r
}
