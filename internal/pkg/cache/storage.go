package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/sutto4/ccc-sub004/internal/pkg/env"
)

// NewFiberStorage returns a fiber.Storage on the shared redis server, using
// the given database number.
func NewFiberStorage(database int) fiber.Storage {
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(Addr()); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: database,
		Reset:    false,
	})
}
