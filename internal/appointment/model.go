package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusAttended    Status = "attended"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
)

// HistoryNone is the previous status recorded for a newly created appointment.
const HistoryNone = "none"

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusAttended, StatusRescheduled, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether no reschedule, cancel or attend may follow.
func (s Status) Terminal() bool {
	return s == StatusAttended || s == StatusCancelled
}

// ClockTime is a wall-clock time of day in the clinic's timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

// On returns the instant at c on the calendar day of date, in date's location.
func (c ClockTime) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, date.Location())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// WeeklySchedule is a doctor's working window for one day of the week.
// DayOfWeek follows time.Weekday: 0 is Sunday.
type WeeklySchedule struct {
	DoctorID    uuid.UUID `json:"doctorId"`
	DayOfWeek   int       `json:"dayOfWeek"`
	StartTime   ClockTime `json:"startTime"`
	EndTime     ClockTime `json:"endTime"`
	SlotMinutes int       `json:"slotDuration"`
}

func (w WeeklySchedule) SlotDuration() time.Duration {
	return time.Duration(w.SlotMinutes) * time.Minute
}

type ScheduleBlock struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	StartDate time.Time  `json:"startDate"`
	EndDate   time.Time  `json:"endDate"`
	Reason    string     `json:"reason"`
	CreatedBy *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Doctor struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	SpecialtyID   uuid.UUID `json:"specialtyId"`
	Specialty     string    `json:"specialty"`
	LicenseNumber *string   `json:"licenseNumber,omitempty"`
	IsActive      bool      `json:"isActive"`
}

type Patient struct {
	ID                  uuid.UUID  `json:"id"`
	MedicalRecordNumber string     `json:"medicalRecordNumber"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	DeletedAt           *time.Time `json:"-"`
}

type Appointment struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patientId"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	DateTime  time.Time  `json:"dateTime"`
	EndTime   time.Time  `json:"endTime"`
	Status    Status     `json:"status"`
	Reason    *string    `json:"reason,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"-"`
}

// History is an append-only record of one status change.
type History struct {
	ID             int64     `json:"id"`
	AppointmentID  uuid.UUID `json:"appointmentId"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Reason         *string   `json:"reason,omitempty"`
	ChangedBy      uuid.UUID `json:"changedBy"`
	ChangedAt      time.Time `json:"changedAt"`
}

type AppointmentDetail struct {
	Appointment
	History []History `json:"history"`
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
