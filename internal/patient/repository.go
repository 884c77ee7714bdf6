package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinica/internal/apperr"
)

var (
	ErrPatientNotFound   = apperr.New(apperr.KindNotFound, "patient_not_found", "patient not found")
	ErrDuplicateIDNumber = apperr.New(apperr.KindConflict, "patient_id_number_taken", "a patient with this identification already exists")
	ErrDuplicateRecordNo = apperr.New(apperr.KindConflict, "record_number_taken", "medical record number already in use")
)

type Repository interface {
	// ReserveRecordNumbers atomically advances the year's counter by n and
	// returns the first reserved sequence value.
	ReserveRecordNumbers(ctx context.Context, year, n int) (int64, error)
	Create(ctx context.Context, p *Patient) error
	// Get returns a non-deleted patient.
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, f Filter) ([]Patient, int, error)
	Update(ctx context.Context, p *Patient) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
