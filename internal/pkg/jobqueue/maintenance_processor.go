package jobqueue

import (
	"context"
	"time"

	"github.com/sutto4/ccc-sub004/internal/pkg/allocation"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/quota"
)

// Services are the domain services the job handlers call into.
type Services struct {
	Resolver    *entitlements.Resolver
	Allocations *allocation.Manager
	Ledger      *quota.Ledger
}

// RegisterHandlers wires every job type to its service.
func (q *Queue) RegisterHandlers(s Services) {
	if s.Resolver != nil {
		q.Handle(JobTypeBulkFeatureToggle, bulkToggleHandler(s.Resolver))
	}
	if s.Allocations != nil {
		q.Handle(JobTypeReconcileSubscriptions, reconcileHandler(s.Allocations))
	}
	if s.Ledger != nil {
		q.Handle(JobTypeQuotaPrune, pruneHandler(s.Ledger))
	}
}

func reconcileHandler(m *allocation.Manager) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		checked, err := m.ReconcileAll(ctx)
		return map[string]interface{}{"checked": checked}, err
	}
}

func pruneHandler(l *quota.Ledger) Handler {
	return func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		deleted, err := l.Prune(ctx)
		return map[string]interface{}{"deleted": deleted}, err
	}
}

// ReconcileTask is the periodic subscription counter self-heal.
func ReconcileTask(m *allocation.Manager, every time.Duration) Task {
	return Task{Name: "reconcile", Interval: every, Run: func(ctx context.Context) error {
		_, err := m.ReconcileAll(ctx)
		return err
	}}
}

// PruneTask is the periodic quota event cleanup.
func PruneTask(l *quota.Ledger, every time.Duration) Task {
	return Task{Name: "quota prune", Interval: every, Run: func(ctx context.Context) error {
		_, err := l.Prune(ctx)
		return err
	}}
}
