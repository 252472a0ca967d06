package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientUsesEnvironment(t *testing.T) {
	t.Setenv("CACHE_HOST", "redis.internal")
	t.Setenv("CACHE_PORT", "6380")
	t.Setenv("CACHE_PASSWORD", "secret")

	c := NewClient(LimiterDatabase)
	defer c.Close()

	assert.Equal(t, "redis.internal:6380", c.Options().Addr)
	assert.Equal(t, "secret", c.Options().Password)
	assert.Equal(t, LimiterDatabase, c.Options().DB)
}
