package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to active", StatusPending, StatusActive, true},
		{"pending to cancelled", StatusPending, StatusCancelled, true},
		{"pending to completed", StatusPending, StatusCompleted, false},
		{"active to completed", StatusActive, StatusCompleted, true},
		{"active to cancelled", StatusActive, StatusCancelled, true},
		{"active to pending", StatusActive, StatusPending, false},
		{"completed is terminal", StatusCompleted, StatusActive, false},
		{"completed stays completed", StatusCompleted, StatusCompleted, false},
		{"cancelled is terminal", StatusCancelled, StatusActive, false},
		{"cancelled to completed", StatusCancelled, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusActive, StatusCompleted, StatusCancelled} {
		assert.True(t, s.Valid(), "status %s", s)
	}
	assert.False(t, Status("done").Valid())
	assert.False(t, Status("").Valid())
}
