package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const patientColumns = `id, medical_record_number, id_type, id_number, first_name, last_name,
	date_of_birth, gender, phone, email, address, emergency_contact_name, emergency_contact_phone,
	blood_type, allergies, notes, created_at, updated_at, deleted_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.MedicalRecordNumber,
		&p.IDType,
		&p.IDNumber,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&p.Gender,
		&p.Phone,
		&p.Email,
		&p.Address,
		&p.EmergencyContactName,
		&p.EmergencyContactPhone,
		&p.BloodType,
		&p.Allergies,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) ReserveRecordNumbers(ctx context.Context, year, n int) (int64, error) {
	var last int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO patient_record_sequences (year, last_value)
		VALUES ($1, $2)
		ON CONFLICT (year) DO UPDATE
		SET last_value = patient_record_sequences.last_value + EXCLUDED.last_value
		RETURNING last_value
	`, year, n).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("reserve record numbers: %w", err)
	}
	return last - int64(n) + 1, nil
}

func (r *PgRepository) duplicate(err error, p *Patient) error {
	switch {
	case db.IsUniqueViolation(err, "patients_id_number_key"):
		return ErrDuplicateIDNumber.Withf(map[string]any{"idNumber": p.IDNumber}, "a patient with identification %s already exists", p.IDNumber)
	case db.IsUniqueViolation(err, "patients_medical_record_number_key"):
		return ErrDuplicateRecordNo.Withf(map[string]any{"medicalRecordNumber": p.MedicalRecordNumber}, "medical record number %s already in use", p.MedicalRecordNumber)
	}
	return nil
}

func (r *PgRepository) Create(ctx context.Context, p *Patient) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO patients (id, medical_record_number, id_type, id_number, first_name, last_name,
		                      date_of_birth, gender, phone, email, address, emergency_contact_name,
		                      emergency_contact_phone, blood_type, allergies, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, p.ID, p.MedicalRecordNumber, p.IDType, p.IDNumber, p.FirstName, p.LastName,
		p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.EmergencyContactName,
		p.EmergencyContactPhone, p.BloodType, p.Allergies, p.Notes, p.CreatedAt, p.UpdatedAt)
	if dup := r.duplicate(err, p); dup != nil {
		return dup
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.q.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Patient, int, error) {
	const where = `
		WHERE deleted_at IS NULL
		  AND ($1 = '' OR first_name ILIKE '%' || $1 || '%'
		               OR last_name ILIKE '%' || $1 || '%'
		               OR id_number ILIKE '%' || $1 || '%'
		               OR phone ILIKE '%' || $1 || '%'
		               OR email ILIKE '%' || $1 || '%'
		               OR medical_record_number ILIKE '%' || $1 || '%')`

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM patients`+where, f.Search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients`+where+`
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *PgRepository) Update(ctx context.Context, p *Patient) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE patients
		SET id_type = $2, id_number = $3, first_name = $4, last_name = $5, date_of_birth = $6,
		    gender = $7, phone = $8, email = $9, address = $10, emergency_contact_name = $11,
		    emergency_contact_phone = $12, blood_type = $13, allergies = $14, notes = $15,
		    updated_at = $16
		WHERE id = $1 AND deleted_at IS NULL
	`, p.ID, p.IDType, p.IDNumber, p.FirstName, p.LastName, p.DateOfBirth,
		p.Gender, p.Phone, p.Email, p.Address, p.EmergencyContactName,
		p.EmergencyContactPhone, p.BloodType, p.Allergies, p.Notes, p.UpdatedAt)
	if dup := r.duplicate(err, p); dup != nil {
		return dup
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE patients SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}
