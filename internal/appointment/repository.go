package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/apperr"
)

var (
	ErrPatientNotFound     = apperr.New(apperr.KindNotFound, "patient_not_found", "patient not found")
	ErrDoctorNotFound      = apperr.New(apperr.KindNotFound, "doctor_not_found", "doctor not found")
	ErrAppointmentNotFound = apperr.New(apperr.KindNotFound, "appointment_not_found", "appointment not found")
	ErrScheduleNotFound    = apperr.New(apperr.KindNotFound, "schedule_not_found", "doctor does not work this day")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context, specialtyID *uuid.UUID) ([]Doctor, error)

	// Weekly schedules and blocks
	GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) (*WeeklySchedule, error)
	ListWeeklySchedules(ctx context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error)
	UpsertWeeklySchedule(ctx context.Context, ws WeeklySchedule) error
	CreateScheduleBlock(ctx context.Context, b ScheduleBlock) error
	// ListBlocksOverlapping returns blocks overlapping [start, end) ordered by start.
	ListBlocksOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error)

	// For conflict checks: non-cancelled, non-deleted appointments of the
	// doctor overlapping [start, end), ordered by start then id.
	ListActiveOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error)
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error)

	// Creation and updates write the appointment and its history entry together.
	CreateAppointment(ctx context.Context, appt *Appointment, h History) error
	UpdateAppointment(ctx context.Context, appt *Appointment, h History) error

	// WithinTx runs fn against a repository bound to one transaction.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
	// LockDoctorCalendar serializes bookings for a doctor until the
	// surrounding transaction ends.
	LockDoctorCalendar(ctx context.Context, doctorID uuid.UUID) error
	// LockAppointment loads an appointment and holds its row until the
	// surrounding transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
