// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sutto4/ccc-sub004/internal/pkg/env"
)

// ResolveRedis returns the first reachable Redis endpoint or skips the test.
func ResolveRedis(t *testing.T) (addr string, password string) {
	t.Helper()

	hosts := uniq(env.GetEnv("CACHE_HOST", ""), "cache", "localhost", "127.0.0.1")
	ports := uniq(env.GetEnv("CACHE_PORT", "6379"), "6379")
	passwords := []string{env.GetEnv("CACHE_PASSWORD", "")}
	if passwords[0] != "" {
		passwords = append(passwords, "")
	}

	var lastErr error
	for _, host := range hosts {
		for _, port := range ports {
			for _, pw := range passwords {
				a := fmt.Sprintf("%s:%s", host, port)
				client := redis.NewClient(&redis.Options{Addr: a, Password: pw})
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return a, pw
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", ""
}

// IsolatedRedis returns a client on a flushed database that is flushed
// again when the test ends.
func IsolatedRedis(t *testing.T, db int) *redis.Client {
	t.Helper()

	addr, password := ResolveRedis(t)
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: flush of db %d failed (%v)", db, err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func uniq(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
