// Package botstatus keeps the latest bot heartbeat and a bounded history of
// bot log lines. It is process-local state, separate from the entitlement core.
package botstatus

import (
	"container/ring"
	"strings"
	"sync"
	"time"
)

const (
	DefaultLogLines   = 200
	DefaultStaleAfter = 2 * time.Minute
)

// Heartbeat is what the bot reports periodically.
type Heartbeat struct {
	BotID      string    `json:"bot_id" validate:"required,max=64"`
	Status     string    `json:"status" validate:"required,oneof=online degraded offline"`
	Version    string    `json:"version" validate:"max=64"`
	Guilds     int       `json:"guilds" validate:"min=0"`
	Shards     int       `json:"shards" validate:"min=0"`
	ReceivedAt time.Time `json:"received_at"`
}

// LogLine is one buffered log entry.
type LogLine struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is a consistent copy of the board.
type Snapshot struct {
	Heartbeat *Heartbeat `json:"heartbeat"`
	Online    bool       `json:"online"`
	Logs      []LogLine  `json:"logs"`
}

// Board is safe for concurrent use.
type Board struct {
	mu         sync.RWMutex
	latest     *Heartbeat
	logs       *ring.Ring
	size       int
	staleAfter time.Duration
	now        func() time.Time
}

// NewBoard keeps at most lines log lines.
func NewBoard(lines int, staleAfter time.Duration) *Board {
	if lines <= 0 {
		lines = DefaultLogLines
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Board{
		logs:       ring.New(lines),
		size:       lines,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// RecordHeartbeat replaces the latest heartbeat.
func (b *Board) RecordHeartbeat(hb Heartbeat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hb.ReceivedAt = b.now()
	b.latest = &hb
}

// AppendLog adds a line, dropping the oldest once the buffer is full.
func (b *Board) AppendLog(level, message string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs.Value = LogLine{Level: level, Message: message, At: b.now()}
	b.logs = b.logs.Next()
}

// Snapshot returns the latest heartbeat and up to limit log lines, oldest
// first. A non-positive limit returns every buffered line.
func (b *Board) Snapshot(limit int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lines := make([]LogLine, 0, b.size)
	// b.logs points at the oldest slot once the ring has wrapped.
	b.logs.Do(func(v any) {
		if line, ok := v.(LogLine); ok {
			lines = append(lines, line)
		}
	})
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	snap := Snapshot{Logs: lines}
	if b.latest != nil {
		hb := *b.latest
		snap.Heartbeat = &hb
		snap.Online = hb.Status != "offline" && b.now().Sub(hb.ReceivedAt) <= b.staleAfter
	}
	return snap
}
