package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/config"
	"github.com/hackgods/clinica/internal/observability/metrics"
	redisclient "github.com/hackgods/clinica/internal/redis"
)

const auditModule = "appointments"

var (
	ErrScheduleBlocked     = apperr.New(apperr.KindConflict, "schedule_blocked", "doctor has a schedule block in this interval")
	ErrAppointmentConflict = apperr.New(apperr.KindConflict, "appointment_conflict", "doctor already has an appointment in this interval")
	ErrDoctorBusy          = apperr.New(apperr.KindConflict, "doctor_busy", "doctor calendar is being booked, please retry")
	ErrInvalidTransition   = apperr.New(apperr.KindForbiddenTransition, "invalid_status_transition", "invalid status transition")
	ErrReasonRequired      = apperr.New(apperr.KindValidation, "reason_required", "a reason is required")
	ErrInvalidInterval     = apperr.New(apperr.KindValidation, "invalid_interval", "start must be before end")
)

// Deps are the optional collaborators of a Service. Zero values fall back
// to no-op implementations.
type Deps struct {
	Audit   audit.Recorder
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cfg     config.Config
	audit   audit.Recorder
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, deps Deps) *Service {
	s := &Service{
		repo:    repo,
		locker:  locker,
		cfg:     cfg,
		audit:   deps.Audit,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  otel.Tracer("clinica/appointment"),
	}
	if s.audit == nil {
		s.audit = audit.Discard
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cfg.ClinicTimezone == nil {
		s.cfg.ClinicTimezone = time.UTC
	}
	if s.cfg.DefaultApptMinutes <= 0 {
		s.cfg.DefaultApptMinutes = 30
	}
	return s
}

type CreateCommand struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Start           time.Time
	DurationMinutes int
	Reason          string
	Actor           uuid.UUID
}

type RescheduleCommand struct {
	ID              uuid.UUID
	Start           time.Time
	DurationMinutes int
	Reason          string
	Actor           uuid.UUID
}

func (s *Service) duration(minutes int) (time.Duration, error) {
	if minutes == 0 {
		minutes = s.cfg.DefaultApptMinutes
	}
	if minutes < 0 {
		return 0, apperr.Validation("invalid_duration", "duration must be positive, got %d minutes", minutes)
	}
	return time.Duration(minutes) * time.Minute, nil
}

// CheckConflict returns the first non-cancelled appointment of the doctor
// overlapping [start, end), or nil when the interval is free.
func (s *Service) CheckConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	if !start.Before(end) {
		return nil, ErrInvalidInterval
	}
	return firstConflict(ctx, s.repo, doctorID, start, end, exclude)
}

func firstConflict(ctx context.Context, repo Repository, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error) {
	appts, err := repo.ListActiveOverlapping(ctx, doctorID, start, end, exclude)
	if err != nil {
		return nil, fmt.Errorf("check conflict: %w", err)
	}
	if len(appts) == 0 {
		return nil, nil
	}
	return &appts[0], nil
}

// ensureFree rejects [start, end) when a schedule block or another
// appointment overlaps it. Blocks are reported first.
func (s *Service) ensureFree(ctx context.Context, repo Repository, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	blocks, err := repo.ListBlocksOverlapping(ctx, doctorID, start, end)
	if err != nil {
		return fmt.Errorf("check schedule blocks: %w", err)
	}
	if len(blocks) > 0 {
		b := blocks[0]
		s.metrics.SchedulingConflict("block")
		return ErrScheduleBlocked.Withf(map[string]any{
			"blockId":   b.ID,
			"reason":    b.Reason,
			"startDate": b.StartDate,
			"endDate":   b.EndDate,
		}, "doctor is not available: %s", b.Reason)
	}

	conflict, err := firstConflict(ctx, repo, doctorID, start, end, exclude)
	if err != nil {
		return err
	}
	if conflict != nil {
		s.metrics.SchedulingConflict("appointment")
		return ErrAppointmentConflict.Withf(map[string]any{
			"appointmentId": conflict.ID,
			"dateTime":      conflict.DateTime,
			"endTime":       conflict.EndTime,
		}, "doctor already has appointment %s from %s to %s",
			conflict.ID, conflict.DateTime.Format(time.RFC3339), conflict.EndTime.Format(time.RFC3339))
	}
	return nil
}

// bookDoctor runs fn while holding the doctor's Redis lock and, inside it, a
// transaction holding the doctor's calendar lock.
func (s *Service) bookDoctor(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Repository) error) error {
	err := s.locker.WithLock(ctx, redisclient.DoctorKey(doctorID), func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(tx Repository) error {
			if err := tx.LockDoctorCalendar(lockCtx, doctorID); err != nil {
				return err
			}
			return fn(lockCtx, tx)
		})
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.metrics.SchedulingConflict("lock")
		return ErrDoctorBusy
	}
	return err
}

// CreateAppointment books a patient with a doctor. The block and conflict
// checks and the insert happen under the doctor's calendar lock.
func (s *Service) CreateAppointment(ctx context.Context, cmd CreateCommand) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.create", trace.WithAttributes(
		attribute.String("doctor_id", cmd.DoctorID.String()),
	))
	defer span.End()

	if cmd.Start.IsZero() {
		return nil, apperr.Validation("start_required", "dateTime is required")
	}
	dur, err := s.duration(cmd.DurationMinutes)
	if err != nil {
		return nil, err
	}

	// Validate patient exists
	if _, err := s.repo.GetPatientByID(ctx, cmd.PatientID); err != nil {
		return nil, err
	}
	// Validate doctor exists and is active
	doctor, err := s.repo.GetDoctorByID(ctx, cmd.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsActive {
		return nil, ErrDoctorNotFound.Withf(map[string]any{"doctorId": doctor.ID}, "doctor %s is not active", doctor.ID)
	}

	start := cmd.Start
	end := start.Add(dur)
	var created *Appointment

	err = s.bookDoctor(ctx, cmd.DoctorID, func(ctx context.Context, tx Repository) error {
		if err := s.ensureFree(ctx, tx, cmd.DoctorID, start, end, nil); err != nil {
			return err
		}

		now := s.clock.Now()
		appt := &Appointment{
			ID:        uuid.New(),
			PatientID: cmd.PatientID,
			DoctorID:  cmd.DoctorID,
			DateTime:  start,
			EndTime:   end,
			Status:    StatusScheduled,
			Reason:    optional(cmd.Reason),
			CreatedAt: now,
			UpdatedAt: now,
		}
		h := History{
			AppointmentID:  appt.ID,
			PreviousStatus: HistoryNone,
			NewStatus:      string(StatusScheduled),
			ChangedBy:      cmd.Actor,
			ChangedAt:      now,
		}
		if err := tx.CreateAppointment(ctx, appt, h); err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.AppointmentTransition(string(StatusScheduled))
	s.logger.Info("appointment created",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.Time("date_time", created.DateTime))
	s.record(ctx, cmd.Actor, audit.ActionCreate, created.ID, nil, created)

	return created, nil
}

// RescheduleAppointment moves an appointment to a new interval.
func (s *Service) RescheduleAppointment(ctx context.Context, cmd RescheduleCommand) (*Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "appointment.reschedule", trace.WithAttributes(
		attribute.String("appointment_id", cmd.ID.String()),
	))
	defer span.End()

	if cmd.Start.IsZero() {
		return nil, apperr.Validation("start_required", "dateTime is required")
	}
	if cmd.Reason == "" {
		return nil, ErrReasonRequired.Withf(nil, "a reason is required to reschedule")
	}
	dur, err := s.duration(cmd.DurationMinutes)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetAppointmentByID(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}

	start := cmd.Start
	end := start.Add(dur)
	var before, updated *Appointment

	err = s.bookDoctor(ctx, existing.DoctorID, func(ctx context.Context, tx Repository) error {
		current, err := tx.LockAppointment(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return transitionError(current, "reschedule")
		}
		if err := s.ensureFree(ctx, tx, current.DoctorID, start, end, &current.ID); err != nil {
			return err
		}

		snapshot := *current
		before = &snapshot

		now := s.clock.Now()
		current.DateTime = start
		current.EndTime = end
		current.Status = StatusRescheduled
		current.Notes = optional(cmd.Reason)
		current.UpdatedAt = now

		h := History{
			AppointmentID:  current.ID,
			PreviousStatus: string(before.Status),
			NewStatus:      string(StatusRescheduled),
			Reason:         optional(cmd.Reason),
			ChangedBy:      cmd.Actor,
			ChangedAt:      now,
		}
		if err := tx.UpdateAppointment(ctx, current, h); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.AppointmentTransition(string(StatusRescheduled))
	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", updated.ID.String()),
		zap.Time("date_time", updated.DateTime))
	s.record(ctx, cmd.Actor, audit.ActionReschedule, updated.ID, before, updated)

	return updated, nil
}

func transitionError(appt *Appointment, op string) error {
	return ErrInvalidTransition.Withf(map[string]any{
		"appointmentId": appt.ID,
		"status":        appt.Status,
	}, "cannot %s an appointment in status %s", op, appt.Status)
}

// transition describes a status-only change.
type transition struct {
	op        string
	to        Status
	action    string
	allowed   func(Status) bool
	reason    string
	keepNotes bool
}

func (s *Service) apply(ctx context.Context, id, actor uuid.UUID, t transition) (*Appointment, error) {
	var before, updated *Appointment

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		current, err := tx.LockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if t.allowed != nil && !t.allowed(current.Status) {
			return transitionError(current, t.op)
		}

		snapshot := *current
		before = &snapshot

		now := s.clock.Now()
		current.Status = t.to
		if !t.keepNotes {
			current.Notes = optional(t.reason)
		}
		current.UpdatedAt = now

		h := History{
			AppointmentID:  current.ID,
			PreviousStatus: string(before.Status),
			NewStatus:      string(t.to),
			Reason:         optional(t.reason),
			ChangedBy:      actor,
			ChangedAt:      now,
		}
		if err := tx.UpdateAppointment(ctx, current, h); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AppointmentTransition(string(t.to))
	s.logger.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("from", string(before.Status)),
		zap.String("to", string(updated.Status)))
	s.record(ctx, actor, t.action, updated.ID, before, updated)

	return updated, nil
}

// CancelAppointment cancels any appointment that is not attended or already cancelled.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*Appointment, error) {
	if reason == "" {
		return nil, ErrReasonRequired.Withf(nil, "a reason is required to cancel")
	}
	return s.apply(ctx, id, actor, transition{
		op:      "cancel",
		to:      StatusCancelled,
		action:  audit.ActionCancel,
		allowed: func(st Status) bool { return !st.Terminal() },
		reason:  reason,
	})
}

// ConfirmAppointment marks an appointment confirmed from any status.
func (s *Service) ConfirmAppointment(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.apply(ctx, id, actor, transition{
		op:        "confirm",
		to:        StatusConfirmed,
		action:    audit.ActionConfirm,
		keepNotes: true,
	})
}

// MarkNoShow marks an appointment as missed from any status.
func (s *Service) MarkNoShow(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.apply(ctx, id, actor, transition{
		op:        "mark no-show",
		to:        StatusNoShow,
		action:    audit.ActionNoShow,
		keepNotes: true,
	})
}

// AttendAppointment records that the patient was seen.
func (s *Service) AttendAppointment(ctx context.Context, id, actor uuid.UUID) (*Appointment, error) {
	return s.apply(ctx, id, actor, transition{
		op:        "attend",
		to:        StatusAttended,
		action:    audit.ActionAttend,
		allowed:   func(st Status) bool { return !st.Terminal() },
		keepNotes: true,
	})
}

// GetAppointment retrieves an appointment with its history, newest first.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []History{}
	}
	return &AppointmentDetail{Appointment: *appt, History: history}, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid_status", "unknown appointment status %q", *f.Status)
	}

	appts, total, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return appts, total, nil
}

// ParseDay interprets a YYYY-MM-DD date as midnight in the clinic timezone.
func (s *Service) ParseDay(date string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, date, s.cfg.ClinicTimezone)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid_date", "date must be YYYY-MM-DD, got %q", date)
	}
	return day, nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string, id uuid.UUID, before, after *Appointment) {
	ev := audit.Event{
		UserID:     audit.Actor(actor),
		Action:     action,
		Module:     auditModule,
		EntityType: "Appointment",
		EntityID:   id.String(),
	}
	if before != nil {
		ev.Before = audit.Snapshot(before)
	}
	if after != nil {
		ev.After = audit.Snapshot(after)
	}
	s.audit.Record(ctx, ev)
}
