package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrDuplicate         = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusConflict    = errors.New("order not in expected state")
)

// ValidationError collects every field-level failure found while validating an
// order so callers see the full list, not just the first problem.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order validation failed: %s", strings.Join(e.Issues, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

func (e *ValidationError) empty() bool {
	return len(e.Issues) == 0
}
