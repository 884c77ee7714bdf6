// Package billing implements the invoice ledger: line item totals, the
// document and payment state machines, and payment application.
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusIssued    DocumentStatus = "issued"
	StatusCancelled DocumentStatus = "cancelled"
)

func (s DocumentStatus) Valid() bool {
	return s == StatusDraft || s == StatusIssued || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentPartial || s == PaymentPaid
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodOther    PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCard, MethodOther:
		return true
	}
	return false
}

// CatalogItem is a billable service from the clinic's price list.
type CatalogItem struct {
	ID          uuid.UUID       `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	Position    int             `json:"position"`
	ServiceID   *uuid.UUID      `json:"serviceId,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Payment struct {
	ID         uuid.UUID       `json:"id"`
	InvoiceID  uuid.UUID       `json:"invoiceId"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Reference  *string         `json:"reference,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	ReceivedBy uuid.UUID       `json:"receivedBy"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	Number        string          `json:"invoiceNumber"`
	PatientID     uuid.UUID       `json:"patientId"`
	AttentionID   *uuid.UUID      `json:"attentionId,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Status        DocumentStatus  `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	Notes         *string         `json:"notes,omitempty"`
	IssuedAt      *time.Time      `json:"issuedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	DeletedAt     *time.Time      `json:"-"`

	Items    []LineItem `json:"details"`
	Payments []Payment  `json:"payments"`
}

// Balance summarizes an invoice after a payment.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    PaymentStatus   `json:"status"`
}

// AttentionRef is what invoicing needs to know about a medical attention.
type AttentionRef struct {
	PatientID uuid.UUID
	Closed    bool
}

type Receivable struct {
	Invoice
	TotalPaid decimal.Decimal `json:"totalPaid"`
	Balance   decimal.Decimal `json:"balance"`
}

type InvoiceFilter struct {
	PatientID     *uuid.UUID
	Status        *DocumentStatus
	PaymentStatus *PaymentStatus
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

type CatalogFilter struct {
	Category string
	Search   string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
