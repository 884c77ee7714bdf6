// Package patient is the patient registry: demographic records identified by
// a per-year medical record number.
package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
	GenderOther  Gender = "O"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

const DefaultIDType = "cedula"

type Patient struct {
	ID                    uuid.UUID  `json:"id"`
	MedicalRecordNumber   string     `json:"medicalRecordNumber"`
	IDType                string     `json:"idType"`
	IDNumber              string     `json:"idNumber"`
	FirstName             string     `json:"firstName"`
	LastName              string     `json:"lastName"`
	DateOfBirth           *time.Time `json:"dateOfBirth,omitempty"`
	Gender                *Gender    `json:"gender,omitempty"`
	Phone                 *string    `json:"phone,omitempty"`
	Email                 *string    `json:"email,omitempty"`
	Address               *string    `json:"address,omitempty"`
	EmergencyContactName  *string    `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone *string    `json:"emergencyContactPhone,omitempty"`
	BloodType             *string    `json:"bloodType,omitempty"`
	Allergies             *string    `json:"allergies,omitempty"`
	Notes                 *string    `json:"notes,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	DeletedAt             *time.Time `json:"-"`
}

// Filter selects non-deleted patients. Search matches names, id number,
// phone, email and record number.
type Filter struct {
	Search string
	Limit  int
	Offset int
}

// FormatRecordNumber renders HC-<year>-<6 digit sequence>.
func FormatRecordNumber(year int, seq int64) string {
	return fmt.Sprintf("HC-%04d-%06d", year, seq)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
