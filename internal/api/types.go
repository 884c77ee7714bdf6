package api

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinica/internal/appointment"
	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/medical"
	"github.com/hackgods/clinica/internal/patient"
)

type CreateAppointmentRequest struct {
	PatientID uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID `json:"doctorId"`
	DateTime  string    `json:"dateTime"`
	Duration  int       `json:"duration"`
	Reason    string    `json:"reason"`
}

type RescheduleRequest struct {
	DateTime string `json:"dateTime"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ConflictResponse struct {
	HasConflict bool                     `json:"hasConflict"`
	Conflict    *appointment.Appointment `json:"conflict,omitempty"`
}

type AvailabilityResponse struct {
	DoctorID  uuid.UUID                   `json:"doctorId"`
	Date      string                      `json:"date"`
	Available bool                        `json:"available"`
	Slots     []appointment.Slot          `json:"slots"`
	Schedule  *appointment.WeeklySchedule `json:"schedule,omitempty"`
	Message   string                      `json:"message,omitempty"`
}

type ScheduleRequest struct {
	StartTime    appointment.ClockTime `json:"startTime"`
	EndTime      appointment.ClockTime `json:"endTime"`
	SlotDuration int                   `json:"slotDuration"`
}

type BlockRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Reason    string `json:"reason"`
}

type InvoiceItemRequest struct {
	ServiceID   *uuid.UUID       `json:"serviceId"`
	Description string           `json:"description"`
	Quantity    int              `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unitPrice"`
}

type CreateInvoiceRequest struct {
	PatientID   uuid.UUID            `json:"patientId"`
	AttentionID *uuid.UUID           `json:"attentionId"`
	Items       []InvoiceItemRequest `json:"items"`
	TaxRate     decimal.Decimal      `json:"taxRate"`
	Notes       string               `json:"notes"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal       `json:"amount"`
	Method    billing.PaymentMethod `json:"method"`
	Reference string                `json:"reference"`
	Notes     string                `json:"notes"`
}

type ServiceRequest struct {
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Category    string           `json:"category"`
}

// PatientRequest serves both create and update. On update an absent field
// keeps the stored value and an empty string clears an optional one.
type PatientRequest struct {
	IDType                *string         `json:"idType"`
	IDNumber              *string         `json:"idNumber"`
	FirstName             *string         `json:"firstName"`
	LastName              *string         `json:"lastName"`
	DateOfBirth           *string         `json:"dateOfBirth"`
	Gender                *patient.Gender `json:"gender"`
	Phone                 *string         `json:"phone"`
	Email                 *string         `json:"email"`
	Address               *string         `json:"address"`
	EmergencyContactName  *string         `json:"emergencyContactName"`
	EmergencyContactPhone *string         `json:"emergencyContactPhone"`
	BloodType             *string         `json:"bloodType"`
	Allergies             *string         `json:"allergies"`
	Notes                 *string         `json:"notes"`
}

type StartAttentionRequest struct {
	PatientID      uuid.UUID           `json:"patientId"`
	AppointmentID  *uuid.UUID          `json:"appointmentId"`
	DoctorID       *uuid.UUID          `json:"doctorId"`
	ChiefComplaint string              `json:"chiefComplaint"`
	VitalSigns     *medical.VitalSigns `json:"vitalSigns"`
	Anamnesis      string              `json:"anamnesis"`
	PhysicalExam   string              `json:"physicalExam"`
}

type UpdateAttentionRequest struct {
	ChiefComplaint *string                `json:"chiefComplaint"`
	VitalSigns     *medical.VitalSigns    `json:"vitalSigns"`
	Anamnesis      *string                `json:"anamnesis"`
	PhysicalExam   *string                `json:"physicalExam"`
	Diagnoses      []medical.Diagnosis    `json:"diagnoses"`
	Prescriptions  []medical.Prescription `json:"prescriptions"`
	Note           string                 `json:"note"`
}

type AmendmentRequest struct {
	Reason  string `json:"reason"`
	Content string `json:"content"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type PageResponse[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Kind    string         `json:"kind,omitempty"`
	Details string         `json:"details,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
