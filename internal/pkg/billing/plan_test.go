package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "active"},
		{in: "ACTIVE", want: "active"},
		{in: "trialing", want: "trialing"},
		{in: "cancelled", want: "canceled"},
		{in: "deleted", want: "canceled"},
		{in: "expired", want: "expired"},
		{in: "paused", want: "incomplete"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeStatus(tt.in), tt.in)
	}
}

func TestBuiltinCapacity(t *testing.T) {
	n, ok := builtinCapacity(" Squad ")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = builtinCapacity("price_123")
	assert.False(t, ok)
}

func TestIsEntitlingStatus(t *testing.T) {
	for _, status := range []string{"active", "trialing", "past_due"} {
		assert.True(t, isEntitlingStatus(status), status)
	}
	for _, status := range []string{"canceled", "incomplete", "expired", "paused"} {
		assert.False(t, isEntitlingStatus(status), status)
	}
}
