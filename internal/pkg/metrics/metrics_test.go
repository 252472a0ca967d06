package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sutto4/ccc-sub004/internal/pkg/errs"
)

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&errs.CapacityError{Used: 1, Max: 1}, "capacity_exceeded"},
		{fmt.Errorf("%w: x", errs.ErrSubscriptionNotFound), "not_found"},
		{errs.ErrAlreadyAllocated, "already_allocated"},
		{fmt.Errorf("%w: deadlock", errs.ErrConflictRetryable), "conflict"},
		{errs.ErrPersistenceUnavailable, "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResultLabel(tt.err))
	}
}

func TestObserveAllocation(t *testing.T) {
	before := testutil.ToFloat64(AllocationOps.WithLabelValues("allocate", "ok"))
	ObserveAllocation("allocate", time.Now(), nil)
	assert.Equal(t, before+1, testutil.ToFloat64(AllocationOps.WithLabelValues("allocate", "ok")))
}

func TestHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", Handler())
	QuotaEvents.WithLabelValues("ai", "requests").Add(1)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ccc_quota_events_total")
}
