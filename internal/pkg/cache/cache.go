// Package cache owns the shared redis connection. The console runs without
// it; callers treat a nil or unreachable client as "no redis".
package cache

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sutto4/ccc-sub004/internal/pkg/env"
)

// Database numbers on the shared server.
const (
	CacheDatabase   = 0
	LimiterDatabase = 1
)

var (
	client     *redis.Client
	clientOnce sync.Once
)

// Addr is the redis address from CACHE_HOST and CACHE_PORT.
func Addr() string {
	return fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379"))
}

// NewClient opens a client on the configured server. It does not ping.
func NewClient(database int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     Addr(),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       database,
	})
}

// GetClient returns the shared client on the cache database.
func GetClient() *redis.Client {
	clientOnce.Do(func() {
		client = NewClient(CacheDatabase)
	})
	return client
}
