package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/observability/metrics"
)

const (
	auditModule   = "billing"
	cancelledMark = "[ANULADA]"
)

var (
	ErrNoItems          = apperr.New(apperr.KindValidation, "items_required", "an invoice needs at least one item")
	ErrInvalidItem      = apperr.New(apperr.KindValidation, "invalid_item", "invalid invoice item")
	ErrInvalidTaxRate   = apperr.New(apperr.KindValidation, "invalid_tax_rate", "tax rate must be between 0 and 100")
	ErrInvalidMethod    = apperr.New(apperr.KindValidation, "invalid_payment_method", "unknown payment method")
	ErrNotDraft         = apperr.New(apperr.KindForbiddenTransition, "invoice_not_draft", "only draft invoices can be issued")
	ErrInvoiceCancelled = apperr.New(apperr.KindForbiddenTransition, "invoice_cancelled", "cannot pay a cancelled invoice")
	ErrAttentionPatient = apperr.New(apperr.KindValidation, "attention_patient_mismatch", "the attention belongs to another patient")
	ErrAttentionOpen    = apperr.New(apperr.KindForbiddenTransition, "attention_not_closed", "only closed attentions can be invoiced")
)

// Deps are the optional collaborators of a Service.
type Deps struct {
	Audit    audit.Recorder
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Location *time.Location
}

type Service struct {
	repo    Repository
	audit   audit.Recorder
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	loc     *time.Location
	tracer  trace.Tracer
}

func NewService(repo Repository, deps Deps) *Service {
	s := &Service{
		repo:    repo,
		audit:   deps.Audit,
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		loc:     deps.Location,
		tracer:  otel.Tracer("clinica/billing"),
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
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

type ItemInput struct {
	ServiceID   *uuid.UUID
	Description string
	Quantity    int
	UnitPrice   *decimal.Decimal
}

type CreateInvoiceCommand struct {
	PatientID   uuid.UUID
	AttentionID *uuid.UUID
	Items       []ItemInput
	TaxRate     decimal.Decimal
	Notes       string
	Actor       uuid.UUID
}

type PaymentCommand struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference string
	Notes     string
	Actor     uuid.UUID
}

type PaymentResult struct {
	Payment Payment `json:"payment"`
	Balance Balance `json:"invoiceBalance"`
}

// resolveItems fills defaults from the catalog and validates each line.
func (s *Service) resolveItems(ctx context.Context, inputs []ItemInput) ([]LineItem, error) {
	items := make([]LineItem, 0, len(inputs))
	for i, in := range inputs {
		item := LineItem{
			ID:          uuid.New(),
			ServiceID:   in.ServiceID,
			Description: in.Description,
			Quantity:    in.Quantity,
		}
		if in.UnitPrice != nil {
			item.UnitPrice = *in.UnitPrice
		}

		if in.ServiceID != nil {
			svc, err := s.repo.GetCatalogItem(ctx, *in.ServiceID)
			if err != nil {
				return nil, err
			}
			if item.Description == "" {
				item.Description = svc.Name
			}
			if in.UnitPrice == nil {
				item.UnitPrice = svc.Price
			}
		}

		if item.Quantity == 0 {
			item.Quantity = 1
		}
		switch {
		case item.Quantity < 0:
			return nil, ErrInvalidItem.Withf(map[string]any{"item": i}, "item %d: quantity must be positive", i+1)
		case item.Description == "":
			return nil, ErrInvalidItem.Withf(map[string]any{"item": i}, "item %d: description is required", i+1)
		case in.UnitPrice == nil && in.ServiceID == nil:
			return nil, ErrInvalidItem.Withf(map[string]any{"item": i}, "item %d: unitPrice is required", i+1)
		case item.UnitPrice.IsNegative():
			return nil, ErrInvalidItem.Withf(map[string]any{"item": i}, "item %d: unitPrice cannot be negative", i+1)
		case !InCents(item.UnitPrice):
			return nil, ErrInvalidItem.Withf(map[string]any{"item": i, "unitPrice": item.UnitPrice}, "item %d: unitPrice has more than two decimals", i+1)
		}
		items = append(items, item)
	}
	return items, nil
}

// checkAttention accepts only a closed attention of the invoiced patient.
func (s *Service) checkAttention(ctx context.Context, patientID, attentionID uuid.UUID) error {
	ref, err := s.repo.GetAttentionRef(ctx, attentionID)
	if err != nil {
		return err
	}
	details := map[string]any{"attentionId": attentionID}
	if ref.PatientID != patientID {
		return ErrAttentionPatient.Withf(details, "attention %s belongs to another patient", attentionID)
	}
	if !ref.Closed {
		return ErrAttentionOpen.Withf(details, "attention %s is still in progress", attentionID)
	}
	return nil
}

// CreateInvoice prices the items, freezes the totals and assigns the next
// invoice number of the current year in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, cmd CreateInvoiceCommand) (*Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "billing.create_invoice", trace.WithAttributes(
		attribute.Int("items", len(cmd.Items)),
	))
	defer span.End()

	if cmd.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_required", "patientId is required")
	}
	if len(cmd.Items) == 0 {
		return nil, ErrNoItems
	}
	if cmd.TaxRate.IsNegative() || cmd.TaxRate.GreaterThan(hundred) || !InCents(cmd.TaxRate) {
		return nil, ErrInvalidTaxRate.Withf(map[string]any{"taxRate": cmd.TaxRate}, "tax rate must be between 0 and 100 with at most two decimals, got %s", cmd.TaxRate)
	}

	exists, err := s.repo.PatientExists(ctx, cmd.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPatientNotFound
	}
	if cmd.AttentionID != nil {
		if err := s.checkAttention(ctx, cmd.PatientID, *cmd.AttentionID); err != nil {
			return nil, err
		}
	}

	items, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return nil, err
	}
	totals := ComputeTotals(items, cmd.TaxRate)

	now := s.clock.Now()
	inv := &Invoice{
		ID:            uuid.New(),
		PatientID:     cmd.PatientID,
		AttentionID:   cmd.AttentionID,
		Subtotal:      totals.Subtotal,
		TaxRate:       cmd.TaxRate,
		Tax:           totals.Tax,
		Total:         totals.Total,
		Status:        StatusDraft,
		PaymentStatus: PaymentPending,
		Notes:         optional(cmd.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         totals.Items,
		Payments:      []Payment{},
	}

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		year := now.In(s.loc).Year()
		seq, err := tx.NextInvoiceSequence(ctx, year)
		if err != nil {
			return err
		}
		inv.Number = FormatInvoiceNumber(year, seq)
		return tx.CreateInvoice(ctx, inv)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	total, _ := inv.Total.Float64()
	s.metrics.InvoiceCreated(total)
	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("invoice_number", inv.Number),
		zap.String("total", inv.Total.StringFixed(2)))
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(cmd.Actor),
		Action:     audit.ActionCreate,
		Module:     auditModule,
		EntityType: "Invoice",
		EntityID:   inv.ID.String(),
		After:      audit.Snapshot(inv),
	})

	return inv, nil
}

// IssueInvoice moves a draft invoice to issued.
func (s *Service) IssueInvoice(ctx context.Context, id, actor uuid.UUID) (*Invoice, error) {
	return s.changeState(ctx, id, actor, audit.ActionIssue, func(inv *Invoice, now time.Time) error {
		if inv.Status != StatusDraft {
			return ErrNotDraft.Withf(map[string]any{"invoiceId": inv.ID, "status": inv.Status},
				"only draft invoices can be issued, invoice is %s", inv.Status)
		}
		inv.Status = StatusIssued
		inv.IssuedAt = &now
		return nil
	})
}

// CancelInvoice cancels an invoice from any status. The reason replaces the
// notes, marked as cancelled.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID, reason string, actor uuid.UUID) (*Invoice, error) {
	return s.changeState(ctx, id, actor, audit.ActionCancel, func(inv *Invoice, _ time.Time) error {
		note := cancelledMark
		if reason != "" {
			note = cancelledMark + " " + reason
		}
		inv.Status = StatusCancelled
		inv.Notes = &note
		return nil
	})
}

func (s *Service) changeState(ctx context.Context, id, actor uuid.UUID, action string, mutate func(inv *Invoice, now time.Time) error) (*Invoice, error) {
	var before Invoice
	var updated *Invoice

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		inv, _, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		before = *inv

		now := s.clock.Now()
		if err := mutate(inv, now); err != nil {
			return err
		}
		inv.UpdatedAt = now
		if err := tx.UpdateInvoiceState(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice status changed",
		zap.String("invoice_id", updated.ID.String()),
		zap.String("from", string(before.Status)),
		zap.String("to", string(updated.Status)))
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(actor),
		Action:     action,
		Module:     auditModule,
		EntityType: "Invoice",
		EntityID:   updated.ID.String(),
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(updated),
	})
	return updated, nil
}

// RecordPayment applies a payment to an invoice. The invoice row is locked
// while the remaining balance is checked, so concurrent payments cannot
// both pass the check against a stale total.
func (s *Service) RecordPayment(ctx context.Context, cmd PaymentCommand) (*PaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing.record_payment", trace.WithAttributes(
		attribute.String("invoice_id", cmd.InvoiceID.String()),
	))
	defer span.End()

	if err := checkAmount(cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.Method == "" {
		cmd.Method = MethodCash
	}
	if !cmd.Method.Valid() {
		return nil, ErrInvalidMethod.Withf(map[string]any{"method": cmd.Method}, "unknown payment method %q", cmd.Method)
	}

	var result *PaymentResult

	err := s.repo.WithinTx(ctx, func(tx Repository) error {
		inv, paid, err := tx.LockInvoice(ctx, cmd.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled.Withf(map[string]any{"invoiceId": inv.ID}, "invoice %s is cancelled", inv.Number)
		}

		balance, err := ApplyPayment(inv.Total, paid, cmd.Amount)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		p := Payment{
			ID:         uuid.New(),
			InvoiceID:  inv.ID,
			Amount:     cmd.Amount,
			Method:     cmd.Method,
			Reference:  optional(cmd.Reference),
			Notes:      optional(cmd.Notes),
			ReceivedBy: cmd.Actor,
			ReceivedAt: now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}

		inv.PaymentStatus = balance.Status
		if inv.Status == StatusDraft {
			inv.Status = StatusIssued
		}
		if inv.IssuedAt == nil {
			inv.IssuedAt = &now
		}
		inv.UpdatedAt = now
		if err := tx.UpdateInvoiceState(ctx, inv); err != nil {
			return err
		}

		result = &PaymentResult{Payment: p, Balance: balance}
		return nil
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			s.metrics.PaymentRejected()
		}
		span.RecordError(err)
		return nil, err
	}

	s.metrics.PaymentRecorded(string(cmd.Method))
	s.logger.Info("payment recorded",
		zap.String("invoice_id", cmd.InvoiceID.String()),
		zap.String("amount", cmd.Amount.StringFixed(2)),
		zap.String("payment_status", string(result.Balance.Status)))
	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(cmd.Actor),
		Action:     audit.ActionPayment,
		Module:     auditModule,
		EntityType: "Payment",
		EntityID:   result.Payment.ID.String(),
		After:      audit.Snapshot(result.Payment),
	})

	return result, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Items == nil {
		inv.Items = []LineItem{}
	}
	if inv.Payments == nil {
		inv.Payments = []Payment{}
	}
	return inv, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, int, error) {
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
		return nil, 0, apperr.Validation("invalid_status", "unknown invoice status %q", *f.Status)
	}
	if f.PaymentStatus != nil && !f.PaymentStatus.Valid() {
		return nil, 0, apperr.Validation("invalid_payment_status", "unknown payment status %q", *f.PaymentStatus)
	}

	invoices, total, err := s.repo.ListInvoices(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	return invoices, total, nil
}

// AccountsReceivable lists open invoices, oldest first, with their balance.
func (s *Service) AccountsReceivable(ctx context.Context) ([]Receivable, error) {
	recv, err := s.repo.ListReceivables(ctx)
	if err != nil {
		return nil, err
	}
	if recv == nil {
		recv = []Receivable{}
	}
	return recv, nil
}

// Outstanding sums the open balances of receivables.
func Outstanding(recv []Receivable) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range recv {
		sum = sum.Add(r.Balance)
	}
	return sum
}
