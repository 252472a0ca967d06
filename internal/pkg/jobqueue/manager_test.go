package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerRunsTasks(t *testing.T) {
	var runs, failures int32
	manager := NewManager(nil,
		Task{Name: "count", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		}},
		Task{Name: "fail", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			atomic.AddInt32(&failures, 1)
			return errors.New("boom")
		}},
		Task{Name: "disabled", Interval: 0, Run: func(ctx context.Context) error {
			t.Error("disabled task ran")
			return nil
		}},
	)

	assert.False(t, manager.IsRunning())
	manager.Start()
	manager.Start()
	assert.True(t, manager.IsRunning())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2 && atomic.LoadInt32(&failures) >= 2
	}, time.Second, 5*time.Millisecond, "a failing task keeps its schedule")

	manager.Stop()
	assert.False(t, manager.IsRunning())
	stopped := atomic.LoadInt32(&runs)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&runs))
}

func TestManagerRestart(t *testing.T) {
	var runs int32
	manager := NewManager(nil, Task{Name: "count", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}})

	manager.Stop()
	manager.Start()
	manager.Stop()
	before := atomic.LoadInt32(&runs)
	manager.Start()
	defer manager.Stop()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > before }, time.Second, 5*time.Millisecond)
}
