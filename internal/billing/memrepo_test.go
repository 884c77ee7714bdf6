package billing

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo is a map-backed Repository. WithinTx serializes callers, which
// stands in for the invoice row lock.
type memRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients   map[uuid.UUID]bool
	attentions map[uuid.UUID]AttentionRef
	catalog    map[uuid.UUID]CatalogItem
	sequences  map[int]int64
	invoices   map[uuid.UUID]Invoice
	payments   []Payment
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:   map[uuid.UUID]bool{},
		attentions: map[uuid.UUID]AttentionRef{},
		catalog:    map[uuid.UUID]CatalogItem{},
		sequences:  map[int]int64{},
		invoices:   map[uuid.UUID]Invoice{},
	}
}

func (r *memRepo) addPatient() uuid.UUID {
	id := uuid.New()
	r.patients[id] = true
	return id
}

func (r *memRepo) addService(code, name, price string) CatalogItem {
	c := CatalogItem{
		ID:       uuid.New(),
		Code:     code,
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: defaultCategory,
		IsActive: true,
	}
	r.catalog[c.ID] = c
	return c
}

func (r *memRepo) addAttention(patientID uuid.UUID, closed bool) uuid.UUID {
	id := uuid.New()
	r.attentions[id] = AttentionRef{PatientID: patientID, Closed: closed}
	return id
}

func (r *memRepo) GetAttentionRef(_ context.Context, id uuid.UUID) (*AttentionRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.attentions[id]
	if !ok {
		return nil, ErrAttentionNotFound
	}
	return &ref, nil
}

func (r *memRepo) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patients[id], nil
}

func (r *memRepo) GetCatalogItem(_ context.Context, id uuid.UUID) (*CatalogItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.catalog[id]
	if !ok {
		return nil, ErrCatalogNotFound
	}
	return &c, nil
}

func (r *memRepo) ListCatalog(_ context.Context, f CatalogFilter) ([]CatalogItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CatalogItem
	for _, c := range r.catalog {
		if !c.IsActive || (f.Category != "" && c.Category != f.Category) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b CatalogItem) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *memRepo) CreateCatalogItem(_ context.Context, item CatalogItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.catalog {
		if c.Code == item.Code {
			return ErrDuplicateService
		}
	}
	r.catalog[item.ID] = item
	return nil
}

func (r *memRepo) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year]++
	return r.sequences[year], nil
}

func (r *memRepo) CreateInvoice(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.Number == inv.Number {
			return ErrDuplicateInvoiceNo
		}
	}
	stored := *inv
	stored.Items = slices.Clone(inv.Items)
	stored.Payments = nil
	r.invoices[inv.ID] = stored
	return nil
}

func (r *memRepo) paidLocked(id uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range r.payments {
		if p.InvoiceID == id {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

func (r *memRepo) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil, ErrInvoiceNotFound
	}
	inv.Items = slices.Clone(inv.Items)
	for _, p := range r.payments {
		if p.InvoiceID == id {
			inv.Payments = append(inv.Payments, p)
		}
	}
	return &inv, nil
}

func (r *memRepo) ListInvoices(_ context.Context, f InvoiceFilter) ([]Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Invoice
	for _, inv := range r.invoices {
		if inv.DeletedAt != nil {
			continue
		}
		if f.PatientID != nil && inv.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		if f.PaymentStatus != nil && inv.PaymentStatus != *f.PaymentStatus {
			continue
		}
		all = append(all, inv)
	}
	slices.SortFunc(all, func(a, b Invoice) int { return strings.Compare(b.Number, a.Number) })

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return all[f.Offset:end], total, nil
}

func (r *memRepo) LockInvoice(_ context.Context, id uuid.UUID) (*Invoice, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return nil, decimal.Zero, ErrInvoiceNotFound
	}
	return &inv, r.paidLocked(id), nil
}

func (r *memRepo) UpdateInvoiceState(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.invoices[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	stored.Status = inv.Status
	stored.PaymentStatus = inv.PaymentStatus
	stored.IssuedAt = inv.IssuedAt
	stored.Notes = inv.Notes
	stored.UpdatedAt = inv.UpdatedAt
	r.invoices[inv.ID] = stored
	return nil
}

func (r *memRepo) InsertPayment(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, p)
	return nil
}

func (r *memRepo) ListReceivables(_ context.Context) ([]Receivable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Receivable
	for _, inv := range r.invoices {
		if inv.DeletedAt != nil || inv.Status == StatusCancelled || inv.PaymentStatus == PaymentPaid {
			continue
		}
		paid := r.paidLocked(inv.ID)
		out = append(out, Receivable{Invoice: inv, TotalPaid: paid, Balance: inv.Total.Sub(paid)})
	}
	slices.SortFunc(out, func(a, b Receivable) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}
