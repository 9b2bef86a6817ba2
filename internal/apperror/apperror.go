// Package apperror defines the error taxonomy shared by the core services and
// translated into HTTP responses by the api layer.
package apperror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError reports a malformed request body or ingest payload.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", strings.Join(e.Fields, ", "), e.Reason)
}

// Validation builds a ValidationError for the given fields.
func Validation(reason string, fields ...string) *ValidationError {
	return &ValidationError{Fields: fields, Reason: reason}
}

// NotFoundError reports a referenced user, project, exception or instance that does not exist.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// IneligibleAssigneeError reports an assignment target that is not a member of
// the exception's project.
type IneligibleAssigneeError struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
}

func (e *IneligibleAssigneeError) Error() string {
	return fmt.Sprintf("user %s is not a member of project %s", e.UserID, e.ProjectID)
}

// ConflictError reports a concurrent write that could not be resolved by retrying.
type ConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
