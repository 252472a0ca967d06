package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Task is a periodic background job run by the Manager.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager manages the job queue and the periodic maintenance tasks
type Manager struct {
	queue   *Queue
	tasks   []Task
	timeout time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a manager. queue may be nil when only the periodic
// tasks should run.
func NewManager(queue *Queue, tasks ...Task) *Manager {
	return &Manager{
		queue:   queue,
		tasks:   tasks,
		timeout: 5 * time.Minute,
		stopCh:  make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	for _, task := range m.tasks {
		if task.Interval <= 0 || task.Run == nil {
			log.Infof("[JobQueue Manager] Task %q disabled", task.Name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(task, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(task Task, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.Name, task.Interval)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.Name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			if err := task.Run(ctx); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", task.Name, err)
			}
			cancel()
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
