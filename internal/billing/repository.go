package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinica/internal/apperr"
)

var (
	ErrPatientNotFound    = apperr.New(apperr.KindNotFound, "patient_not_found", "patient not found")
	ErrInvoiceNotFound    = apperr.New(apperr.KindNotFound, "invoice_not_found", "invoice not found")
	ErrAttentionNotFound  = apperr.New(apperr.KindNotFound, "attention_not_found", "medical attention not found")
	ErrCatalogNotFound    = apperr.New(apperr.KindNotFound, "service_not_found", "service not found")
	ErrDuplicateService   = apperr.New(apperr.KindConflict, "service_code_taken", "a service with this code already exists")
	ErrDuplicateInvoiceNo = apperr.New(apperr.KindConflict, "invoice_number_taken", "invoice number already in use")
)

// Repository contains all DB interactions needed by the ledger.
type Repository interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
	// GetAttentionRef returns the patient and status of a medical attention.
	GetAttentionRef(ctx context.Context, id uuid.UUID) (*AttentionRef, error)

	// Catalog
	GetCatalogItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	ListCatalog(ctx context.Context, f CatalogFilter) ([]CatalogItem, error)
	CreateCatalogItem(ctx context.Context, item CatalogItem) error

	// NextInvoiceSequence atomically increments and returns the year's counter.
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)
	// CreateInvoice inserts the invoice header and its line items.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// GetInvoice returns a non-deleted invoice with items and payments.
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, int, error)
	// LockInvoice loads a non-deleted invoice header and the sum of its
	// payments, holding the row until the surrounding transaction ends.
	LockInvoice(ctx context.Context, id uuid.UUID) (*Invoice, decimal.Decimal, error)
	// UpdateInvoiceState persists status, payment status, issued stamp and notes.
	UpdateInvoiceState(ctx context.Context, inv *Invoice) error
	InsertPayment(ctx context.Context, p Payment) error

	// ListReceivables returns non-deleted, non-cancelled invoices with
	// pending or partial payment status, oldest first.
	ListReceivables(ctx context.Context) ([]Receivable, error)

	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
