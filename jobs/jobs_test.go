package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	jobmetrics "github.com/ledgerdesk/ledgerdesk/internal/jobs"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
	err     error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, log)
	return nil
}

type fakeSource struct {
	owners []int64
	drift  map[int64][]inventory.Discrepancy
	failOn int64
}

func (f *fakeSource) Owners(ctx context.Context) ([]int64, error) {
	return f.owners, nil
}

func (f *fakeSource) Reconcile(ctx context.Context, ownerID int64) ([]inventory.Discrepancy, error) {
	if ownerID == f.failOn {
		return nil, errors.New("boom")
	}
	return f.drift[ownerID], nil
}

type fakeCleaner struct {
	retention time.Duration
	deleted   int64
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.deleted, nil
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestLowStockJobRecordsAuditPerProduct(t *testing.T) {
	audit := &recordingAudit{}
	job := NewLowStockJob(audit, nil, testMetrics())
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	task, err := NewLowStockTask(inventory.LowStockEvent{
		OwnerID: 3, ProductIDs: ids, Reason: inventory.ReasonSales, RaisedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, TaskLowStock, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, audit.entries, 2)
	assert.Equal(t, "inventory.low_stock", audit.entries[0].Action)
	assert.Equal(t, ids[1].String(), audit.entries[1].EntityID)
	assert.Equal(t, int64(3), audit.entries[0].ActorID)
}

func TestLowStockJobSkipsMalformedPayload(t *testing.T) {
	job := NewLowStockJob(&recordingAudit{}, nil, testMetrics())
	err := job.Handle(context.Background(), asynq.NewTask(TaskLowStock, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockJobSurfacesAuditFailure(t *testing.T) {
	job := NewLowStockJob(&recordingAudit{err: errors.New("db down")}, nil, testMetrics())
	task, err := NewLowStockTask(inventory.LowStockEvent{OwnerID: 1, ProductIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestReconcileCountsDriftAcrossOwners(t *testing.T) {
	source := &fakeSource{
		owners: []int64{1, 2, 3},
		drift: map[int64][]inventory.Discrepancy{
			1: {{ProductID: uuid.New(), Quantity: 5, LedgerSum: 4}},
			3: {{ProductID: uuid.New(), Quantity: 0, LedgerSum: 2}, {ProductID: uuid.New(), Quantity: 9, LedgerSum: 8}},
		},
	}
	job := NewInventoryReconcileJob(source, nil, testMetrics())
	job.Concurrency = 2

	drift, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 3, drift)

	drift, err = job.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, 2, drift)
}

func TestReconcilePropagatesOwnerFailure(t *testing.T) {
	source := &fakeSource{owners: []int64{1, 2}, failOn: 2}
	job := NewInventoryReconcileJob(source, nil, testMetrics())

	task, err := NewInventoryReconcileTask(ReconcilePayload{})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	store := &fakeCleaner{deleted: 4}
	job := NewIdempotencyCleanupJob(store, 48*time.Hour, nil, testMetrics())
	task, err := NewIdempotencyCleanupTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.retention)

	job.Retention = 0
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, store.retention)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		contains  string
	}{
		{"no worker", nil, http.StatusOK, `"queue":"default"`},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, http.StatusOK, `"pending":3`},
		{"redis down", stubInspector{err: errors.New("dial")}, http.StatusServiceUnavailable, "queue unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), tc.contains)
		})
	}
}
