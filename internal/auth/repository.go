package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/db"
)

var (
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	ErrUserExists   = apperr.New(apperr.KindConflict, "user_exists", "username or email already in use")
)

type Repository interface {
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListCapabilities(ctx context.Context, roleID uuid.UUID) (Capabilities, error)

	// RegisterFailedLogin increments the failure counter, restarting it when
	// a previous lock already expired, and returns the new count.
	RegisterFailedLogin(ctx context.Context, id uuid.UUID, now time.Time) (int, error)
	LockUser(ctx context.Context, id uuid.UUID, until time.Time) error
	// RegisterLogin clears the failure counter and lock and stamps last login.
	RegisterLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const userSelect = `
	SELECT u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
	       u.role_id, r.name, d.id, u.is_active, u.failed_attempts, u.locked_until,
	       u.last_login, u.deleted_at
	FROM users u
	JOIN roles r ON r.id = u.role_id
	LEFT JOIN doctors d ON d.user_id = u.id
`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.RoleID, &u.Role, &u.DoctorID, &u.IsActive, &u.FailedAttempts, &u.LockedUntil,
		&u.LastLogin, &u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *PgRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.username = $1`, username))
}

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
}

func (r *PgRepository) ListCapabilities(ctx context.Context, roleID uuid.UUID) (Capabilities, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT module, action FROM role_permissions
		WHERE role_id = $1
		ORDER BY module, action
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	caps, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Permission])
	if err != nil {
		return nil, fmt.Errorf("scan capabilities: %w", err)
	}
	return caps, nil
}

func (r *PgRepository) RegisterFailedLogin(ctx context.Context, id uuid.UUID, now time.Time) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET failed_attempts = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
		        ELSE failed_attempts + 1
		    END,
		    locked_until = CASE WHEN locked_until <= $2 THEN NULL ELSE locked_until END,
		    updated_at = $2
		WHERE id = $1
		RETURNING failed_attempts
	`, id, now).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("register failed login: %w", err)
	}
	return attempts, nil
}

func (r *PgRepository) LockUser(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET locked_until = $2 WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

func (r *PgRepository) RegisterLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET failed_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("register login: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// CreateRole inserts a role and its capabilities, returning the role id.
// An existing role with the same name keeps its id and gets its
// capabilities replaced.
func (r *PgRepository) CreateRole(ctx context.Context, role Role) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.InTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (id, name, description) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
			RETURNING id
		`, uuid.New(), role.Name, role.Description).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert role %s: %w", role.Name, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("clear capabilities: %w", err)
		}
		rows := make([][]any, 0, len(role.Capabilities))
		for _, p := range role.Capabilities {
			rows = append(rows, []any{id, p.Module, p.Action})
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"role_permissions"}, []string{"role_id", "module", "action"}, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert capabilities: %w", err)
		}
		return nil
	})
	return id, err
}

func (r *PgRepository) CreateUser(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, first_name, last_name, role_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.RoleID, u.IsActive)
	if db.IsUniqueViolation(err, "") {
		return ErrUserExists.Withf(map[string]any{"username": u.Username}, "user %s already exists", u.Username)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}
