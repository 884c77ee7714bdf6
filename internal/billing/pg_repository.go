package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinica/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	q    db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const invoiceColumns = `id, invoice_number, patient_id, attention_id, subtotal, tax_rate, tax, total,
	status, payment_status, notes, issued_at, created_at, updated_at, deleted_at`

// Helpers

func scanCatalogItem(row pgx.Row) (*CatalogItem, error) {
	var c CatalogItem
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Description, &c.Price, &c.Category, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCatalogNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanInvoice(row pgx.Row, extra ...any) (*Invoice, error) {
	var inv Invoice
	dest := []any{
		&inv.ID,
		&inv.Number,
		&inv.PatientID,
		&inv.AttentionID,
		&inv.Subtotal,
		&inv.TaxRate,
		&inv.Tax,
		&inv.Total,
		&inv.Status,
		&inv.PaymentStatus,
		&inv.Notes,
		&inv.IssuedAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&inv.DeletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// Interface methods

func (r *PgRepository) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1 AND deleted_at IS NULL)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) GetAttentionRef(ctx context.Context, id uuid.UUID) (*AttentionRef, error) {
	var ref AttentionRef
	err := r.q.QueryRow(ctx, `
		SELECT patient_id, status = 'closed'
		FROM medical_attentions
		WHERE id = $1
	`, id).Scan(&ref.PatientID, &ref.Closed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttentionNotFound
		}
		return nil, fmt.Errorf("get attention: %w", err)
	}
	return &ref, nil
}

func (r *PgRepository) GetCatalogItem(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, code, name, description, price, category, is_active, created_at
		FROM services
		WHERE id = $1
	`, id)
	return scanCatalogItem(row)
}

func (r *PgRepository) ListCatalog(ctx context.Context, f CatalogFilter) ([]CatalogItem, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, code, name, description, price, category, is_active, created_at
		FROM services
		WHERE is_active
		  AND ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR code ILIKE '%' || $2 || '%')
		ORDER BY name
	`, f.Category, f.Search)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var result []CatalogItem
	for rows.Next() {
		c, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateCatalogItem(ctx context.Context, item CatalogItem) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO services (id, code, name, description, price, category, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Code, item.Name, item.Description, item.Price, item.Category, item.IsActive, item.CreatedAt)
	if db.IsUniqueViolation(err, "services_code_key") {
		return ErrDuplicateService.Withf(map[string]any{"code": item.Code}, "a service with code %s already exists", item.Code)
	}
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (r *PgRepository) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO invoice_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE
		SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, year).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next invoice sequence: %w", err)
	}
	return seq, nil
}

func (r *PgRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	return r.WithinTx(ctx, func(tx Repository) error {
		q := tx.(*PgRepository).q
		_, err := q.Exec(ctx, `
			INSERT INTO invoices (id, invoice_number, patient_id, attention_id, subtotal, tax_rate, tax, total,
			                      status, payment_status, notes, issued_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, inv.ID, inv.Number, inv.PatientID, inv.AttentionID, inv.Subtotal, inv.TaxRate, inv.Tax, inv.Total,
			inv.Status, inv.PaymentStatus, inv.Notes, inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt)
		if db.IsUniqueViolation(err, "invoices_invoice_number_key") {
			return ErrDuplicateInvoiceNo.Withf(map[string]any{"invoiceNumber": inv.Number}, "invoice number %s already in use", inv.Number)
		}
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		batch := &pgx.Batch{}
		for _, item := range inv.Items {
			batch.Queue(`
				INSERT INTO invoice_details (id, invoice_id, position, service_id, description, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, item.ID, inv.ID, item.Position, item.ServiceID, item.Description, item.Quantity, item.UnitPrice, item.Subtotal)
		}
		if err := tx.(*PgRepository).sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert invoice details: %w", err)
		}
		return nil
	})
}

func (r *PgRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	sender, ok := r.q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return errors.New("querier does not support batches")
	}
	return sender.SendBatch(ctx, batch).Close()
}

func (r *PgRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *PgRepository) loadLines(ctx context.Context, inv *Invoice) error {
	rows, err := r.q.Query(ctx, `
		SELECT id, position, service_id, description, quantity, unit_price, subtotal
		FROM invoice_details
		WHERE invoice_id = $1
		ORDER BY position
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("load invoice details: %w", err)
	}
	inv.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (LineItem, error) {
		var li LineItem
		err := row.Scan(&li.ID, &li.Position, &li.ServiceID, &li.Description, &li.Quantity, &li.UnitPrice, &li.Subtotal)
		return li, err
	})
	if err != nil {
		return fmt.Errorf("scan invoice details: %w", err)
	}

	rows, err = r.q.Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, notes, received_by, received_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY received_at, id
	`, inv.ID)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	inv.Payments, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Payment, error) {
		var p Payment
		err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.Notes, &p.ReceivedBy, &p.ReceivedAt)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("scan payments: %w", err)
	}
	return nil
}

func (f InvoiceFilter) where() (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.PaymentStatus != nil {
		add("payment_status = $%d", string(*f.PaymentStatus))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, int, error) {
	where, args := f.where()

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM invoices `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.q.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM invoices
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *PgRepository) LockInvoice(ctx context.Context, id uuid.UUID) (*Invoice, decimal.Decimal, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, decimal.Zero, err
	}

	var paid decimal.Decimal
	err = r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1
	`, id).Scan(&paid)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	return inv, paid, nil
}

func (r *PgRepository) UpdateInvoiceState(ctx context.Context, inv *Invoice) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE invoices
		SET status = $2,
		    payment_status = $3,
		    issued_at = $4,
		    notes = $5,
		    updated_at = $6
		WHERE id = $1 AND deleted_at IS NULL
	`, inv.ID, inv.Status, inv.PaymentStatus, inv.IssuedAt, inv.Notes, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *PgRepository) InsertPayment(ctx context.Context, p Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, notes, received_by, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.Notes, p.ReceivedBy, p.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PgRepository) ListReceivables(ctx context.Context) ([]Receivable, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+prefixed("i.", invoiceColumns)+`, COALESCE(p.paid, 0)
		FROM invoices i
		LEFT JOIN (
			SELECT invoice_id, SUM(amount) AS paid FROM payments GROUP BY invoice_id
		) p ON p.invoice_id = i.id
		WHERE i.deleted_at IS NULL
		  AND i.status <> 'cancelled'
		  AND i.payment_status IN ('pending', 'partial')
		ORDER BY i.created_at, i.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list receivables: %w", err)
	}
	defer rows.Close()

	var result []Receivable
	for rows.Next() {
		var paid decimal.Decimal
		inv, err := scanInvoice(rows, &paid)
		if err != nil {
			return nil, err
		}
		result = append(result, Receivable{Invoice: *inv, TotalPaid: paid, Balance: inv.Total.Sub(paid)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}
