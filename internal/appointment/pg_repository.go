package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

const appointmentColumns = `id, patient_id, doctor_id, date_time, end_time, status, reason, notes, created_at, updated_at, deleted_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MedicalRecordNumber, &p.FirstName, &p.LastName, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.FirstName,
		&d.LastName,
		&d.SpecialtyID,
		&d.Specialty,
		&d.LicenseNumber,
		&d.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSchedule(row pgx.Row) (*WeeklySchedule, error) {
	var ws WeeklySchedule
	var start, end string
	if err := row.Scan(&ws.DoctorID, &ws.DayOfWeek, &start, &end, &ws.SlotMinutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	var err error
	if ws.StartTime, err = ParseClockTime(start); err != nil {
		return nil, err
	}
	if ws.EndTime, err = ParseClockTime(end); err != nil {
		return nil, err
	}
	return &ws, nil
}

func scanBlock(row pgx.Row) (*ScheduleBlock, error) {
	var b ScheduleBlock
	err := row.Scan(&b.ID, &b.DoctorID, &b.StartDate, &b.EndDate, &b.Reason, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.DateTime,
		&a.EndTime,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, medical_record_number, first_name, last_name, deleted_at
		FROM patients
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanPatient(row)
}

const doctorSelect = `
	SELECT d.id, d.user_id, u.first_name, u.last_name, d.specialty_id, s.name, d.license_number, d.is_active
	FROM doctors d
	JOIN users u ON u.id = d.user_id
	JOIN specialties s ON s.id = d.specialty_id
`

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, specialtyID *uuid.UUID) ([]Doctor, error) {
	rows, err := r.q.Query(ctx, doctorSelect+`
		WHERE d.is_active AND ($1::uuid IS NULL OR d.specialty_id = $1)
		ORDER BY u.last_name, u.first_name
	`, specialtyID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return collect(rows, scanDoctor)
}

func (r *PgRepository) GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) (*WeeklySchedule, error) {
	row := r.q.QueryRow(ctx, `
		SELECT doctor_id, day_of_week, start_time, end_time, slot_minutes
		FROM doctor_schedules
		WHERE doctor_id = $1 AND day_of_week = $2
	`, doctorID, dayOfWeek)
	return scanSchedule(row)
}

func (r *PgRepository) ListWeeklySchedules(ctx context.Context, doctorID uuid.UUID) ([]WeeklySchedule, error) {
	rows, err := r.q.Query(ctx, `
		SELECT doctor_id, day_of_week, start_time, end_time, slot_minutes
		FROM doctor_schedules
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collect(rows, scanSchedule)
}

func (r *PgRepository) UpsertWeeklySchedule(ctx context.Context, ws WeeklySchedule) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO doctor_schedules (doctor_id, day_of_week, start_time, end_time, slot_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (doctor_id, day_of_week) DO UPDATE
		SET start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    slot_minutes = EXCLUDED.slot_minutes,
		    updated_at = now()
	`, ws.DoctorID, ws.DayOfWeek, ws.StartTime.String(), ws.EndTime.String(), ws.SlotMinutes)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateScheduleBlock(ctx context.Context, b ScheduleBlock) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO schedule_blocks (id, doctor_id, start_date, end_date, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.DoctorID, b.StartDate, b.EndDate, b.Reason, b.CreatedBy, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule block: %w", err)
	}
	return nil
}

func (r *PgRepository) ListBlocksOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]ScheduleBlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, doctor_id, start_date, end_date, reason, created_by, created_at
		FROM schedule_blocks
		WHERE doctor_id = $1
		  AND start_date < $3
		  AND end_date > $2
		ORDER BY start_date, id
	`, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list schedule blocks: %w", err)
	}
	return collect(rows, scanBlock)
}

func (r *PgRepository) ListActiveOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status <> 'cancelled'
		  AND deleted_at IS NULL
		  AND date_time < $3
		  AND end_time > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY date_time, id
	`, doctorID, start, end, exclude)
	if err != nil {
		return nil, fmt.Errorf("list overlapping appointments: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (f ListFilter) where() (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("date_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("date_time < $%d", *f.To)
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	where, args := f.where()

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.q.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY date_time, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}

	appts, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (r *PgRepository) ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, appointment_id, previous_status, new_status, reason, changed_by, changed_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY changed_at DESC, id DESC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return collect(rows, func(row pgx.Row) (*History, error) {
		var h History
		err := row.Scan(&h.ID, &h.AppointmentID, &h.PreviousStatus, &h.NewStatus, &h.Reason, &h.ChangedBy, &h.ChangedAt)
		return &h, err
	})
}

func (r *PgRepository) insertHistory(ctx context.Context, q db.Querier, h History) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, previous_status, new_status, reason, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.AppointmentID, h.PreviousStatus, h.NewStatus, h.Reason, h.ChangedBy, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment, h History) error {
	return r.WithinTx(ctx, func(tx Repository) error {
		q := tx.(*PgRepository).q
		_, err := q.Exec(ctx, `
			INSERT INTO appointments (id, patient_id, doctor_id, date_time, end_time, status, reason, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, appt.ID, appt.PatientID, appt.DoctorID, appt.DateTime, appt.EndTime, appt.Status,
			appt.Reason, appt.Notes, appt.CreatedAt, appt.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "insert appointment")
		}
		return r.insertHistory(ctx, q, h)
	})
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, appt *Appointment, h History) error {
	return r.WithinTx(ctx, func(tx Repository) error {
		q := tx.(*PgRepository).q
		tag, err := q.Exec(ctx, `
			UPDATE appointments
			SET date_time = $2,
			    end_time = $3,
			    status = $4,
			    notes = $5,
			    updated_at = $6
			WHERE id = $1 AND deleted_at IS NULL
		`, appt.ID, appt.DateTime, appt.EndTime, appt.Status, appt.Notes, appt.UpdatedAt)
		if err != nil {
			return mapWriteError(err, "update appointment")
		}
		if tag.RowsAffected() == 0 {
			return ErrAppointmentNotFound
		}
		return r.insertHistory(ctx, q, h)
	})
}

func mapWriteError(err error, op string) error {
	if db.IsExclusionViolation(err, "appointments_no_overlap") {
		return ErrAppointmentConflict.Withf(nil, "appointment overlaps an existing booking")
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}

func (r *PgRepository) LockDoctorCalendar(ctx context.Context, doctorID uuid.UUID) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID.String()); err != nil {
		return fmt.Errorf("lock doctor calendar: %w", err)
	}
	return nil
}
