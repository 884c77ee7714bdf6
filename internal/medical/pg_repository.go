package medical

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinica/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	q    db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

const attentionColumns = `id, appointment_id, patient_id, doctor_id, chief_complaint, vital_signs,
	anamnesis, physical_exam, status, closed_at, created_at, updated_at`

func scanAttention(row pgx.Row) (*Attention, error) {
	var a Attention
	err := row.Scan(
		&a.ID,
		&a.AppointmentID,
		&a.PatientID,
		&a.DoctorID,
		&a.ChiefComplaint,
		&a.VitalSigns,
		&a.Anamnesis,
		&a.PhysicalExam,
		&a.Status,
		&a.ClosedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttentionNotFound
		}
		return nil, err
	}
	return &a, nil
}

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

func (r *PgRepository) CreateAttention(ctx context.Context, a *Attention) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO medical_attentions (id, appointment_id, patient_id, doctor_id, chief_complaint, vital_signs,
		                                anamnesis, physical_exam, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.AppointmentID, a.PatientID, a.DoctorID, a.ChiefComplaint, a.VitalSigns,
		a.Anamnesis, a.PhysicalExam, a.Status, a.CreatedAt, a.UpdatedAt)
	if db.IsUniqueViolation(err, "medical_attentions_appointment_id_key") {
		return ErrAttentionExists.Withf(map[string]any{"appointmentId": a.AppointmentID}, "appointment %s already has a medical attention", a.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("insert attention: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAttention(ctx context.Context, id uuid.UUID) (*Attention, error) {
	return scanAttention(r.q.QueryRow(ctx, `
		SELECT `+attentionColumns+` FROM medical_attentions WHERE id = $1
	`, id))
}

func (r *PgRepository) LockAttention(ctx context.Context, id uuid.UUID) (*Attention, error) {
	return scanAttention(r.q.QueryRow(ctx, `
		SELECT `+attentionColumns+` FROM medical_attentions WHERE id = $1
		FOR UPDATE
	`, id))
}

func (r *PgRepository) AttentionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Attention, error) {
	return scanAttention(r.q.QueryRow(ctx, `
		SELECT `+attentionColumns+` FROM medical_attentions WHERE appointment_id = $1
	`, appointmentID))
}

func (r *PgRepository) UpdateAttention(ctx context.Context, a *Attention) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE medical_attentions
		SET chief_complaint = $2, vital_signs = $3, anamnesis = $4, physical_exam = $5,
		    status = $6, closed_at = $7, updated_at = $8
		WHERE id = $1
	`, a.ID, a.ChiefComplaint, a.VitalSigns, a.Anamnesis, a.PhysicalExam, a.Status, a.ClosedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update attention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttentionNotFound
	}
	return nil
}

func (r *PgRepository) ListAttentions(ctx context.Context, f Filter) ([]Attention, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM medical_attentions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count attentions: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.q.Query(ctx, `
		SELECT `+attentionColumns+`
		FROM medical_attentions`+where+fmt.Sprintf(`
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list attentions: %w", err)
	}
	defer rows.Close()

	var result []Attention
	for rows.Next() {
		a, err := scanAttention(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *PgRepository) ReplaceDiagnoses(ctx context.Context, attentionID uuid.UUID, ds []Diagnosis) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM diagnoses WHERE attention_id = $1`, attentionID); err != nil {
		return fmt.Errorf("clear diagnoses: %w", err)
	}
	batch := &pgx.Batch{}
	for i, d := range ds {
		batch.Queue(`
			INSERT INTO diagnoses (id, attention_id, position, code, description, type)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, d.ID, attentionID, i+1, d.Code, d.Description, d.Type)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert diagnoses: %w", err)
	}
	return nil
}

func (r *PgRepository) ReplacePrescriptions(ctx context.Context, attentionID uuid.UUID, ps []Prescription) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM prescriptions WHERE attention_id = $1`, attentionID); err != nil {
		return fmt.Errorf("clear prescriptions: %w", err)
	}
	batch := &pgx.Batch{}
	for i, p := range ps {
		batch.Queue(`
			INSERT INTO prescriptions (id, attention_id, position, medication, dosage, frequency, duration, instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, attentionID, i+1, p.Medication, p.Dosage, p.Frequency, p.Duration, p.Instructions)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert prescriptions: %w", err)
	}
	return nil
}

func (r *PgRepository) ListDiagnoses(ctx context.Context, attentionID uuid.UUID) ([]Diagnosis, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, code, description, type
		FROM diagnoses
		WHERE attention_id = $1
		ORDER BY position
	`, attentionID)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Diagnosis, error) {
		var d Diagnosis
		err := row.Scan(&d.ID, &d.Code, &d.Description, &d.Type)
		return d, err
	})
}

func (r *PgRepository) ListPrescriptions(ctx context.Context, attentionID uuid.UUID) ([]Prescription, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, medication, dosage, frequency, duration, instructions
		FROM prescriptions
		WHERE attention_id = $1
		ORDER BY position
	`, attentionID)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Prescription, error) {
		var p Prescription
		err := row.Scan(&p.ID, &p.Medication, &p.Dosage, &p.Frequency, &p.Duration, &p.Instructions)
		return p, err
	})
}

func (r *PgRepository) AddNote(ctx context.Context, n *Note) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO clinical_notes (id, attention_id, note_type, content, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.AttentionID, n.Type, n.Content, n.CreatedBy, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert clinical note: %w", err)
	}
	return nil
}

func (r *PgRepository) ListNotes(ctx context.Context, attentionID uuid.UUID) ([]Note, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, attention_id, note_type, content, created_by, created_at
		FROM clinical_notes
		WHERE attention_id = $1
		ORDER BY created_at DESC, id
	`, attentionID)
	if err != nil {
		return nil, fmt.Errorf("list clinical notes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Note, error) {
		var n Note
		err := row.Scan(&n.ID, &n.AttentionID, &n.Type, &n.Content, &n.CreatedBy, &n.CreatedAt)
		return n, err
	})
}

func (r *PgRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	sender, ok := r.q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return errors.New("querier does not support batches")
	}
	return sender.SendBatch(ctx, batch).Close()
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}
