package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinica/internal/apperr"
	"github.com/hackgods/clinica/internal/audit"
)

const defaultCategory = "consultation"

var ErrInvalidCatalogItem = apperr.New(apperr.KindValidation, "invalid_service", "invalid service")

type CatalogCommand struct {
	Code        string
	Name        string
	Description string
	Price       *decimal.Decimal
	Category    string
	Actor       uuid.UUID
}

func (s *Service) ListCatalog(ctx context.Context, f CatalogFilter) ([]CatalogItem, error) {
	items, err := s.repo.ListCatalog(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []CatalogItem{}
	}
	return items, nil
}

// CreateCatalogItem adds a billable service. Codes are unique.
func (s *Service) CreateCatalogItem(ctx context.Context, cmd CatalogCommand) (*CatalogItem, error) {
	code := strings.TrimSpace(cmd.Code)
	name := strings.TrimSpace(cmd.Name)
	switch {
	case code == "" || name == "" || cmd.Price == nil:
		return nil, ErrInvalidCatalogItem.Withf(nil, "code, name and price are required")
	case cmd.Price.IsNegative():
		return nil, ErrInvalidCatalogItem.Withf(map[string]any{"price": cmd.Price}, "price cannot be negative")
	case !InCents(*cmd.Price):
		return nil, ErrInvalidCatalogItem.Withf(map[string]any{"price": cmd.Price}, "price has more than two decimals")
	}

	category := cmd.Category
	if category == "" {
		category = defaultCategory
	}

	item := CatalogItem{
		ID:          uuid.New(),
		Code:        code,
		Name:        name,
		Description: optional(cmd.Description),
		Price:       *cmd.Price,
		Category:    category,
		IsActive:    true,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.CreateCatalogItem(ctx, item); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     audit.Actor(cmd.Actor),
		Action:     audit.ActionCreate,
		Module:     auditModule,
		EntityType: "Service",
		EntityID:   item.ID.String(),
		After:      audit.Snapshot(item),
	})
	return &item, nil
}
