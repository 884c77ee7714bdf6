package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Insert(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (user_id, action, module, entity_type, entity_id, before, after, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)
	`, ev.UserID, ev.Action, ev.Module, ev.EntityType, ev.EntityID,
		nullableJSON(ev.Before), nullableJSON(ev.After), ev.IPAddress, ev.UserAgent, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

type Filter struct {
	UserID *uuid.UUID
	Module string
	Action string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Page struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Module != "" {
		add("module = $%d", f.Module)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (s *PgStore) Query(ctx context.Context, f Filter) (*Page, error) {
	where, args := f.where()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM audit_events `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, user_id, action, module, COALESCE(entity_type, ''), COALESCE(entity_id, ''),
		       before, after, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		err := row.Scan(&ev.ID, &ev.UserID, &ev.Action, &ev.Module, &ev.EntityType, &ev.EntityID,
			&ev.Before, &ev.After, &ev.IPAddress, &ev.UserAgent, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit events: %w", err)
	}

	return &Page{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (s *PgStore) Modules(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT module FROM audit_events ORDER BY module`)
	if err != nil {
		return nil, fmt.Errorf("query audit modules: %w", err)
	}
	modules, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan audit modules: %w", err)
	}
	return modules, nil
}
