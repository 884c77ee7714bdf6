package medical

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

func (s Status) Valid() bool {
	return s == StatusInProgress || s == StatusClosed
}

type DiagnosisType string

const (
	DiagnosisPrimary   DiagnosisType = "primary"
	DiagnosisSecondary DiagnosisType = "secondary"
)

type NoteType string

const (
	NoteEvolution NoteType = "evolution"
	// NoteAmendment is only written by AddAmendment.
	NoteAmendment NoteType = "amendment"
)

// Amendment notes read "[ENMIENDA] Motivo: <reason>\n<content>"; the reason
// line is dropped when no reason is given.
const (
	amendmentPrefix = "[ENMIENDA] "
	amendmentReason = "Motivo: "
)

type VitalSigns struct {
	BloodPressure    *string  `json:"bloodPressure,omitempty"`
	HeartRate        *int     `json:"heartRate,omitempty"`
	RespiratoryRate  *int     `json:"respiratoryRate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	OxygenSaturation *int     `json:"oxygenSaturation,omitempty"`
}

type Attention struct {
	ID             uuid.UUID   `json:"id"`
	AppointmentID  *uuid.UUID  `json:"appointmentId,omitempty"`
	PatientID      uuid.UUID   `json:"patientId"`
	DoctorID       uuid.UUID   `json:"doctorId"`
	ChiefComplaint *string     `json:"chiefComplaint,omitempty"`
	VitalSigns     *VitalSigns `json:"vitalSigns,omitempty"`
	Anamnesis      *string     `json:"anamnesis,omitempty"`
	PhysicalExam   *string     `json:"physicalExam,omitempty"`
	Status         Status      `json:"status"`
	ClosedAt       *time.Time  `json:"closedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type Diagnosis struct {
	ID          uuid.UUID     `json:"id"`
	Code        *string       `json:"code,omitempty"`
	Description string        `json:"description"`
	Type        DiagnosisType `json:"type"`
}

type Prescription struct {
	ID           uuid.UUID `json:"id"`
	Medication   string    `json:"medication"`
	Dosage       *string   `json:"dosage,omitempty"`
	Frequency    *string   `json:"frequency,omitempty"`
	Duration     *string   `json:"duration,omitempty"`
	Instructions *string   `json:"instructions,omitempty"`
}

// Note is an append-only clinical note.
type Note struct {
	ID          uuid.UUID `json:"id"`
	AttentionID uuid.UUID `json:"attentionId"`
	Type        NoteType  `json:"noteType"`
	Content     string    `json:"content"`
	CreatedBy   uuid.UUID `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Record is an attention with everything recorded under it. Notes are
// newest first.
type Record struct {
	Attention
	Diagnoses     []Diagnosis    `json:"diagnoses"`
	Prescriptions []Prescription `json:"prescriptions"`
	Notes         []Note         `json:"clinicalNotes"`
}

type Filter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
	Limit     int
	Offset    int
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
