package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Category classifies failures by how the core must react to them
type Category string

const (
	// Rejections of bad input. Logged, never alerted.
	CategoryValidation Category = "VALIDATION"
	// Collaborator failures. Counted by circuit breakers, decision is rejected.
	CategoryDependency Category = "DEPENDENCY"
	// Internal inconsistencies. Rejected and alerted as critical.
	CategoryInvariant Category = "INVARIANT"
	// Conditions that trip the kill switch.
	CategoryCatastrophic Category = "CATASTROPHIC"
)

// CoreError represents a categorized error with context
type CoreError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *CoreError) Unwrap() error {
	return e.Underlying
}

// Is matches another CoreError with the same category, so errors.Is(err, &CoreError{Category: ...}) works
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return t.Category == e.Category && (t.Component == "" || t.Component == e.Component)
}

// WithContext adds context information to the error
func (e *CoreError) WithContext(key string, value interface{}) *CoreError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Alerts reports whether an operator must be paged for this error
func (e *CoreError) Alerts() bool {
	return e.Category == CategoryInvariant || e.Category == CategoryCatastrophic
}

func newError(category Category, component, operation, message string, err error) *CoreError {
	return &CoreError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: err,
	}
}

func NewValidationError(component, operation, message string) *CoreError {
	return newError(CategoryValidation, component, operation, message, nil)
}

func NewDependencyError(component, operation string, err error) *CoreError {
	return newError(CategoryDependency, component, operation, "collaborator failed", err)
}

func NewInvariantError(component, operation, message string) *CoreError {
	return newError(CategoryInvariant, component, operation, message, nil)
}

func NewCatastrophicError(component, operation, message string, err error) *CoreError {
	return newError(CategoryCatastrophic, component, operation, message, err)
}

// CategoryOf returns the category of err, or "" when err is nil
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce.Category
	}
	return Categorize(err, "", "").Category
}

// Categorize attempts to categorize a generic error
func Categorize(err error, component, operation string) *CoreError {
	if err == nil {
		return nil
	}

	var ce *CoreError
	if stderrors.As(err, &ce) {
		return ce
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return NewDependencyError(component, operation, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"), strings.Contains(msg, "malformed"):
		return newError(CategoryValidation, component, operation, "invalid input", err)
	case strings.Contains(msg, "invariant"):
		return newError(CategoryInvariant, component, operation, "invariant violated", err)
	default:
		// unknown failures of a collaborator count against its breaker
		return NewDependencyError(component, operation, err)
	}
}
