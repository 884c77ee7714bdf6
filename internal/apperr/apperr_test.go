package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWidgetMissing = New(KindNotFound, "widget_not_found", "widget not found")

func TestWithfKeepsSentinelIdentity(t *testing.T) {
	derived := errWidgetMissing.Withf(map[string]any{"id": 7}, "widget %d not found", 7)

	assert.True(t, errors.Is(derived, errWidgetMissing))
	assert.Equal(t, "widget 7 not found", derived.Error())
	assert.Equal(t, KindNotFound, KindOf(derived))
	assert.Equal(t, 7, derived.Details["id"])
}

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("load widget: %w", errWidgetMissing)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "widget_not_found", e.Code)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	_, ok := As(errors.New("boom"))
	assert.False(t, ok)
}

func TestErrorMessageIncludesInfraCause(t *testing.T) {
	e := &Error{Kind: KindInternal, Code: "db", Message: "query failed", Err: errors.New("conn reset")}
	assert.Equal(t, "query failed: conn reset", e.Error())
}

func TestValidation(t *testing.T) {
	e := Validation("amount_invalid", "amount must be greater than %d", 0)
	assert.Equal(t, KindValidation, e.Kind)
	assert.Equal(t, "amount must be greater than 0", e.Error())
}
