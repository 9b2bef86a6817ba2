package apperror_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/stretchr/testify/assert"
)

func TestValidation_Message(t *testing.T) {
	err := apperror.Validation("is required", "type", "message")
	assert.Equal(t, "validation failed: type, message: is required", err.Error())

	err = apperror.Validation("invalid JSON body")
	assert.Equal(t, "validation failed: invalid JSON body", err.Error())
}

func TestIsNotFound_Wrapped(t *testing.T) {
	id := uuid.New()
	err := fmt.Errorf("find project: %w", apperror.NotFound("project", id))

	assert.True(t, apperror.IsNotFound(err))
	assert.False(t, apperror.IsValidation(err))
	assert.Contains(t, err.Error(), id.String())
}

func TestConflictError_Unwraps(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := &apperror.ConflictError{Op: "record occurrence", Attempts: 3, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
}
