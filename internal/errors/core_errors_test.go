package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoreErrorFormatting(t *testing.T) {
	err := NewDependencyError("regime", "query", stderrors.New("connection refused"))
	assert.Equal(t, "[DEPENDENCY:regime] query: collaborator failed: connection refused", err.Error())

	v := NewValidationError("orchestrator", "validate", "confidence out of range")
	assert.Equal(t, "[VALIDATION:orchestrator] validate: confidence out of range", v.Error())
}

func TestCoreErrorIsMatchesCategory(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewInvariantError("risk", "validate", "negative size"))

	assert.True(t, stderrors.Is(err, &CoreError{Category: CategoryInvariant}))
	assert.True(t, stderrors.Is(err, &CoreError{Category: CategoryInvariant, Component: "risk"}))
	assert.False(t, stderrors.Is(err, &CoreError{Category: CategoryDependency}))
	assert.False(t, stderrors.Is(err, &CoreError{Category: CategoryInvariant, Component: "state"}))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"deadline", context.DeadlineExceeded, CategoryDependency},
		{"wrapped deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded), CategoryDependency},
		{"invalid input", stderrors.New("invalid symbol"), CategoryValidation},
		{"invariant", stderrors.New("invariant broken: size < 0"), CategoryInvariant},
		{"unknown", stderrors.New("boom"), CategoryDependency},
		{"already categorized", NewCatastrophicError("ks", "trigger", "drawdown", nil), CategoryCatastrophic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err, "c", "op").Category)
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}

	assert.Nil(t, Categorize(nil, "c", "op"))
	assert.Equal(t, Category(""), CategoryOf(nil))
}

func TestAlerts(t *testing.T) {
	assert.False(t, NewValidationError("a", "b", "c").Alerts())
	assert.False(t, NewDependencyError("a", "b", nil).Alerts())
	assert.True(t, NewInvariantError("a", "b", "c").Alerts())
	assert.True(t, NewCatastrophicError("a", "b", "c", nil).Alerts())
}
