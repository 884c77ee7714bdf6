package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/observability/metrics"
)

var clinicTZ = time.FixedZone("ECT", -5*60*60)

type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Record(_ context.Context, ev audit.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureAudit) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	repo    *memRepo
	audit   *captureAudit
	clock   *clock.Fixed
	metrics *metrics.Metrics
	svc     *Service
	patient uuid.UUID
	actor   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemRepo(),
		audit:   &captureAudit{},
		clock:   clock.NewFixed(time.Date(2025, 6, 10, 9, 0, 0, 0, clinicTZ)),
		metrics: metrics.New(prometheus.NewRegistry()),
		actor:   uuid.New(),
	}
	f.svc = NewService(f.repo, Deps{
		Audit:    f.audit,
		Clock:    f.clock,
		Metrics:  f.metrics,
		Location: clinicTZ,
	})
	f.patient = f.repo.addPatient()
	return f
}

func price(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (f *fixture) invoice(t *testing.T, total string) *Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceCommand{
		PatientID: f.patient,
		Items:     []ItemInput{{Description: "Consulta", Quantity: 1, UnitPrice: price(total)}},
		Actor:     f.actor,
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) pay(amount string) (*PaymentResult, error) {
	return f.svc.RecordPayment(context.Background(), PaymentCommand{
		InvoiceID: uuid.Nil,
		Amount:    dec(amount),
		Actor:     f.actor,
	})
}

func TestCreateInvoiceFreezesTotals(t *testing.T) {
	f := newFixture(t)
	consult := f.repo.addService("CONS-01", "Consulta general", "25.00")
	lab := f.repo.addService("LAB-01", "Hemograma", "30.00")

	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceCommand{
		PatientID: f.patient,
		Items: []ItemInput{
			{ServiceID: &consult.ID},
			{ServiceID: &lab.ID, Quantity: 2},
		},
		TaxRate: dec("12"),
		Actor:   f.actor,
	})
	require.NoError(t, err)

	assert.Equal(t, "FAC-2025-000001", inv.Number)
	assert.Equal(t, StatusDraft, inv.Status)
	assert.Equal(t, PaymentPending, inv.PaymentStatus)
	assert.Equal(t, "85.00", inv.Subtotal.StringFixed(2))
	assert.Equal(t, "10.20", inv.Tax.StringFixed(2))
	assert.Equal(t, "95.20", inv.Total.StringFixed(2))

	require.Len(t, inv.Items, 2)
	assert.Equal(t, "Consulta general", inv.Items[0].Description)
	assert.Equal(t, 1, inv.Items[0].Quantity)
	assert.Equal(t, "60.00", inv.Items[1].Subtotal.StringFixed(2))

	// catalog price changes do not touch issued documents
	f.repo.catalog[consult.ID] = CatalogItem{ID: consult.ID, Code: consult.Code, Name: consult.Name, Price: dec("99"), IsActive: true}
	stored, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "95.20", stored.Total.StringFixed(2))

	assert.Equal(t, []string{audit.ActionCreate}, f.audit.actions())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.InvoicesCreated))
}

func TestCreateInvoiceNumbersAreSequential(t *testing.T) {
	f := newFixture(t)

	const workers = 12
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceCommand{
				PatientID: f.patient,
				Items:     []ItemInput{{Description: "Consulta", UnitPrice: price("10")}},
			})
			if assert.NoError(t, err) {
				numbers <- inv.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	assert.True(t, seen["FAC-2025-000001"])
	assert.True(t, seen["FAC-2025-000012"])
}

func TestCreateInvoiceSequenceRestartsPerYear(t *testing.T) {
	f := newFixture(t)
	f.invoice(t, "10")

	f.clock.Set(time.Date(2026, 1, 1, 0, 30, 0, 0, clinicTZ))
	inv := f.invoice(t, "10")

	assert.Equal(t, "FAC-2026-000001", inv.Number)
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  CreateInvoiceCommand
		want error
	}{
		{
			name: "no items",
			cmd:  CreateInvoiceCommand{PatientID: f.patient},
			want: ErrNoItems,
		},
		{
			name: "unknown patient",
			cmd:  CreateInvoiceCommand{PatientID: uuid.New(), Items: []ItemInput{{Description: "x", UnitPrice: price("1")}}},
			want: ErrPatientNotFound,
		},
		{
			name: "unknown service",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, Items: []ItemInput{{ServiceID: ptr(uuid.New())}}},
			want: ErrCatalogNotFound,
		},
		{
			name: "negative quantity",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, Items: []ItemInput{{Description: "x", Quantity: -1, UnitPrice: price("1")}}},
			want: ErrInvalidItem,
		},
		{
			name: "missing price",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, Items: []ItemInput{{Description: "x"}}},
			want: ErrInvalidItem,
		},
		{
			name: "unit price below a cent",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, Items: []ItemInput{{Description: "x", Quantity: 3, UnitPrice: price("0.3333")}}},
			want: ErrInvalidItem,
		},
		{
			name: "tax rate with three decimals",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, TaxRate: dec("12.345"), Items: []ItemInput{{Description: "x", UnitPrice: price("1")}}},
			want: ErrInvalidTaxRate,
		},
		{
			name: "tax over 100",
			cmd:  CreateInvoiceCommand{PatientID: f.patient, TaxRate: dec("101"), Items: []ItemInput{{Description: "x", UnitPrice: price("1")}}},
			want: ErrInvalidTaxRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateInvoice(ctx, tt.cmd)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Empty(t, f.repo.invoices)
}

func TestCreateInvoiceForAttention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []ItemInput{{Description: "Consulta", UnitPrice: price("30")}}
	closed := f.repo.addAttention(f.patient, true)
	open := f.repo.addAttention(f.patient, false)
	foreign := f.repo.addAttention(f.repo.addPatient(), true)

	inv, err := f.svc.CreateInvoice(ctx, CreateInvoiceCommand{PatientID: f.patient, AttentionID: &closed, Items: items})
	require.NoError(t, err)
	assert.Equal(t, closed, *inv.AttentionID)

	tests := []struct {
		name      string
		attention uuid.UUID
		want      error
		kind      apperr.Kind
	}{
		{"unknown attention", uuid.New(), ErrAttentionNotFound, apperr.KindNotFound},
		{"attention of another patient", foreign, ErrAttentionPatient, apperr.KindValidation},
		{"attention still in progress", open, ErrAttentionOpen, apperr.KindForbiddenTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateInvoice(ctx, CreateInvoiceCommand{PatientID: f.patient, AttentionID: &tt.attention, Items: items})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
	assert.Len(t, f.repo.invoices, 1)
}

func ptr[T any](v T) *T { return &v }

func TestRecordPaymentPartialThenPaid(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100")
	ctx := context.Background()

	first, err := f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("80"), Actor: f.actor})
	require.NoError(t, err)
	assert.Equal(t, MethodCash, first.Payment.Method)
	assert.Equal(t, PaymentPartial, first.Balance.Status)
	assert.Equal(t, "20.00", first.Balance.Remaining.StringFixed(2))

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("25"), Actor: f.actor})
	require.True(t, errors.Is(err, ErrExceedsBalance), "got %v", err)
	e, _ := apperr.As(err)
	assert.Equal(t, "20.00", e.Details["remaining"])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PaymentsRejected))

	second, err := f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("20"), Method: MethodCard, Actor: f.actor})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, second.Balance.Status)
	assert.True(t, second.Balance.Remaining.IsZero())

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus)
	assert.Len(t, stored.Payments, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PaymentsRecorded.WithLabelValues("card")))
}

func TestRecordPaymentPromotesDraft(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "50")
	require.Nil(t, inv.IssuedAt)

	_, err := f.svc.RecordPayment(context.Background(), PaymentCommand{InvoiceID: inv.ID, Amount: dec("10"), Actor: f.actor})
	require.NoError(t, err)

	stored, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, stored.Status)
	require.NotNil(t, stored.IssuedAt)
	assert.True(t, stored.IssuedAt.Equal(f.clock.Now()))
}

func TestRecordPaymentConcurrentNeverOverpays(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100")

	const workers = 10
	var ok atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(context.Background(), PaymentCommand{InvoiceID: inv.ID, Amount: dec("30"), Actor: f.actor})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.True(t, errors.Is(err, ErrExceedsBalance), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	stored, err := f.svc.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "90.00", f.repo.paidLocked(inv.ID).StringFixed(2))
	assert.Equal(t, PaymentPartial, stored.PaymentStatus)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100")
	ctx := context.Background()

	_, err := f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("0")})
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("0.001")})
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("5"), Method: "crypto"})
	assert.True(t, errors.Is(err, ErrInvalidMethod))

	_, err = f.pay("5")
	assert.True(t, errors.Is(err, ErrInvoiceNotFound))

	assert.Empty(t, f.repo.payments)
}

func TestRecordPaymentOnCancelledInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100")
	ctx := context.Background()

	_, err := f.svc.CancelInvoice(ctx, inv.ID, "error de digitación", f.actor)
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: inv.ID, Amount: dec("10"), Actor: f.actor})
	assert.Equal(t, apperr.KindForbiddenTransition, apperr.KindOf(err))
	assert.True(t, errors.Is(err, ErrInvoiceCancelled))
}

func TestIssueInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "40")
	ctx := context.Background()

	issued, err := f.svc.IssueInvoice(ctx, inv.ID, f.actor)
	require.NoError(t, err)
	assert.Equal(t, StatusIssued, issued.Status)
	require.NotNil(t, issued.IssuedAt)

	_, err = f.svc.IssueInvoice(ctx, inv.ID, f.actor)
	assert.True(t, errors.Is(err, ErrNotDraft))
	assert.Equal(t, apperr.KindForbiddenTransition, apperr.KindOf(err))

	assert.Equal(t, []string{audit.ActionCreate, audit.ActionIssue}, f.audit.actions())
}

func TestCancelInvoiceMarksNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.invoice(t, "10")
	got, err := f.svc.CancelInvoice(ctx, a.ID, "duplicada", f.actor)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "[ANULADA] duplicada", *got.Notes)

	b := f.invoice(t, "10")
	got, err = f.svc.CancelInvoice(ctx, b.ID, "", f.actor)
	require.NoError(t, err)
	assert.Equal(t, "[ANULADA]", *got.Notes)
}

func TestAccountsReceivable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.invoice(t, "100")
	f.clock.Advance(time.Hour)
	newer := f.invoice(t, "50")
	f.clock.Advance(time.Hour)
	settled := f.invoice(t, "20")
	f.clock.Advance(time.Hour)
	cancelled := f.invoice(t, "70")

	_, err := f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: older.ID, Amount: dec("40"), Actor: f.actor})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, PaymentCommand{InvoiceID: settled.ID, Amount: dec("20"), Actor: f.actor})
	require.NoError(t, err)
	_, err = f.svc.CancelInvoice(ctx, cancelled.ID, "", f.actor)
	require.NoError(t, err)

	recv, err := f.svc.AccountsReceivable(ctx)
	require.NoError(t, err)
	require.Len(t, recv, 2)

	assert.Equal(t, older.ID, recv[0].ID)
	assert.Equal(t, "60.00", recv[0].Balance.StringFixed(2))
	assert.Equal(t, "40.00", recv[0].TotalPaid.StringFixed(2))
	assert.Equal(t, newer.ID, recv[1].ID)
	assert.Equal(t, "110.00", Outstanding(recv).StringFixed(2))
}

func TestListInvoicesPaging(t *testing.T) {
	f := newFixture(t)
	for range 5 {
		f.invoice(t, "10")
	}

	page, total, err := f.svc.ListInvoices(context.Background(), InvoiceFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "FAC-2025-000004", page[0].Number)

	bad := DocumentStatus("void")
	_, _, err = f.svc.ListInvoices(context.Background(), InvoiceFilter{Status: &bad})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateCatalogItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.svc.CreateCatalogItem(ctx, CatalogCommand{Code: "RX-01", Name: "Radiografía", Price: price("45.50")})
	require.NoError(t, err)
	assert.Equal(t, defaultCategory, item.Category)
	assert.True(t, item.IsActive)

	_, err = f.svc.CreateCatalogItem(ctx, CatalogCommand{Code: "RX-01", Name: "Otra", Price: price("1")})
	assert.True(t, errors.Is(err, ErrDuplicateService))

	_, err = f.svc.CreateCatalogItem(ctx, CatalogCommand{Code: "X", Name: "Sin precio"})
	assert.True(t, errors.Is(err, ErrInvalidCatalogItem))

	_, err = f.svc.CreateCatalogItem(ctx, CatalogCommand{Code: "Y", Name: "Fracción", Price: price("1.005")})
	assert.True(t, errors.Is(err, ErrInvalidCatalogItem))

	items, err := f.svc.ListCatalog(ctx, CatalogFilter{Search: "radio"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "RX-01", items[0].Code)
}
