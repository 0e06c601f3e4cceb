package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, StatusSubmitted.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.False(t, StatusPartFilled.Terminal())
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestOrderStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"submitted to accepted", StatusSubmitted, StatusAccepted, true},
		{"accepted to part-filled", StatusAccepted, StatusPartFilled, true},
		{"part-filled to filled", StatusPartFilled, StatusFilled, true},
		{"submitted straight to filled", StatusSubmitted, StatusFilled, true},
		{"accepted to cancelled", StatusAccepted, StatusCancelled, true},
		{"submitted to rejected", StatusSubmitted, StatusRejected, true},
		{"repeated accepted", StatusAccepted, StatusAccepted, true},
		{"part-filled back to accepted", StatusPartFilled, StatusAccepted, false},
		{"accepted back to submitted", StatusAccepted, StatusSubmitted, false},
		{"filled to cancelled", StatusFilled, StatusCancelled, false},
		{"cancelled to filled", StatusCancelled, StatusFilled, false},
		{"rejected to accepted", StatusRejected, StatusAccepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}
