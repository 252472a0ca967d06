// Package health tracks whether the console's backing services answer.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	StatusOK       = "ok"
	StatusDisabled = "disabled"

	checkTimeout = 2 * time.Second
)

// Report is the cached result of one check round.
type Report struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Monitor pings the database and redis. Either may be nil: a missing
// database means the in-memory store, a missing redis is reported as
// disabled and never makes the service unhealthy.
type Monitor struct {
	db    *sql.DB
	redis *redis.Client

	mu     sync.RWMutex
	last   *Report
	stopCh chan struct{}
}

func NewMonitor(db *sql.DB, client *redis.Client) *Monitor {
	return &Monitor{db: db, redis: client}
}

// Check runs one round and caches its report.
func (m *Monitor) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	r := Report{Healthy: true, Checks: map[string]string{}, CheckedAt: time.Now().UTC()}

	switch {
	case m.db == nil:
		r.Checks["store"] = "memory"
	default:
		if err := m.db.PingContext(ctx); err != nil {
			r.Healthy = false
			r.Checks["store"] = err.Error()
		} else {
			r.Checks["store"] = StatusOK
		}
	}

	switch {
	case m.redis == nil:
		r.Checks["redis"] = StatusDisabled
	default:
		if err := m.redis.Ping(ctx).Err(); err != nil {
			r.Checks["redis"] = err.Error()
		} else {
			r.Checks["redis"] = StatusOK
		}
	}

	if !r.Healthy {
		log.Warnf("[Health] store check failed: %s", r.Checks["store"])
	}

	m.mu.Lock()
	m.last = &r
	m.mu.Unlock()
	return r
}

// Last returns the cached report, running a check when none exists yet.
func (m *Monitor) Last(ctx context.Context) Report {
	m.mu.RLock()
	last := m.last
	m.mu.RUnlock()
	if last != nil {
		return *last
	}
	return m.Check(ctx)
}

// Start refreshes the report every interval until Stop.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stopCh = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		log.Infof("[Health] monitor started (interval: %s)", interval)

		m.Check(context.Background())
		for {
			select {
			case <-stop:
				log.Info("[Health] monitor stopped")
				return
			case <-ticker.C:
				m.Check(context.Background())
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}
