package medical

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/apperr"
)

var (
	ErrAttentionNotFound = apperr.New(apperr.KindNotFound, "attention_not_found", "medical attention not found")
	ErrAttentionExists   = apperr.New(apperr.KindConflict, "attention_exists", "the appointment already has a medical attention")
)

type Repository interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)

	// CreateAttention fails with ErrAttentionExists when the appointment
	// already has one.
	CreateAttention(ctx context.Context, a *Attention) error
	GetAttention(ctx context.Context, id uuid.UUID) (*Attention, error)
	// LockAttention holds the row until the surrounding transaction ends.
	LockAttention(ctx context.Context, id uuid.UUID) (*Attention, error)
	AttentionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Attention, error)
	UpdateAttention(ctx context.Context, a *Attention) error
	ListAttentions(ctx context.Context, f Filter) ([]Attention, int, error)

	// ReplaceDiagnoses and ReplacePrescriptions keep the given order.
	ReplaceDiagnoses(ctx context.Context, attentionID uuid.UUID, ds []Diagnosis) error
	ReplacePrescriptions(ctx context.Context, attentionID uuid.UUID, ps []Prescription) error
	ListDiagnoses(ctx context.Context, attentionID uuid.UUID) ([]Diagnosis, error)
	ListPrescriptions(ctx context.Context, attentionID uuid.UUID) ([]Prescription, error)

	AddNote(ctx context.Context, n *Note) error
	// ListNotes returns notes newest first.
	ListNotes(ctx context.Context, attentionID uuid.UUID) ([]Note, error)

	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
