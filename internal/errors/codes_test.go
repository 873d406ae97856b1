package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Error(t *testing.T) {
	err := InvalidArgument("name", "campaign name is required")
	assert.Equal(t, "[INVALID_ARGUMENT] name: campaign name is required", err.Error())

	wrapped := DependencyUnavailable("record store", fmt.Errorf("connection refused"))
	assert.Equal(t, "[DEPENDENCY_UNAVAILABLE] record store: connection refused", wrapped.Error())
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	base := BudgetExceeded(120, 100)
	err := fmt.Errorf("generate strategy: %w", base)

	assert.True(t, IsCode(err, ErrCodeBudgetExceeded))
	assert.False(t, IsCode(err, ErrCodeInvalidArgument))
	assert.Equal(t, "budget.max", FieldOf(err))
	assert.Equal(t, ErrCodeBudgetExceeded, GetCodeFromError(err, ErrCodeNotFound))
	assert.Equal(t, ErrCodeNotFound, GetCodeFromError(fmt.Errorf("plain"), ErrCodeNotFound))
}

func TestBudgetExceeded_Context(t *testing.T) {
	err := BudgetExceeded(12.5, 10)
	assert.Equal(t, 12.5, err.Context["estimated_cost"])
	assert.Equal(t, float64(10), err.Context["budget_max"])
}
