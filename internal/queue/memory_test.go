package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebwren/versio-api/internal/domain"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func testConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		ClaimExpiry: 50 * time.Millisecond,
	}
}

func submitJob(t *testing.T, q *MemoryQueue) uuid.UUID {
	t.Helper()
	id, err := q.Submit(context.Background(), SubmitParams{
		ProjectUnitID: uuid.New(),
		RequestedBy:   "translator@example.com",
		RequestedAt:   time.Now(),
	})
	require.NoError(t, err)
	return id
}

// completeAll acknowledges every job in the batch as successful.
func completeAll(expiresAt time.Time) Handler {
	return func(ctx context.Context, batch []*domain.ExportJob) []Result {
		results := make([]Result, 0, len(batch))
		for _, job := range batch {
			results = append(results, Result{JobID: job.ID, ArtifactExpiresAt: expiresAt})
		}
		return results
	}
}

// failAll reports the same error for every job in the batch.
func failAll(err error) Handler {
	return func(ctx context.Context, batch []*domain.ExportJob) []Result {
		results := make([]Result, 0, len(batch))
		for _, job := range batch {
			results = append(results, Result{JobID: job.ID, Err: err})
		}
		return results
	}
}

func TestSubmitAndJob(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())

	id := submitJob(t, q)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	// The returned record is a copy; mutating it must not reach the queue.
	job.Status = domain.JobStatusFailed
	again, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, again.Status)
}

func TestJobNotFound(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())

	_, err := q.Job(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestRunCycleCompletesJob(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())
	id := submitJob(t, q)

	expiresAt := time.Now().Add(time.Hour).UTC()
	q.RunCycle(context.Background(), completeAll(expiresAt), 1)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.ExpiresAt)
	assert.WithinDuration(t, expiresAt, *job.ExpiresAt, time.Second)
}

func TestEachJobReachesExactlyOneTerminalState(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())

	okID := submitJob(t, q)
	badID := submitJob(t, q)

	handler := func(ctx context.Context, batch []*domain.ExportJob) []Result {
		results := make([]Result, 0, len(batch))
		for _, job := range batch {
			if job.ID == badID {
				results = append(results, Result{JobID: job.ID, Err: errors.New("boom")})
				continue
			}
			results = append(results, Result{JobID: job.ID, ArtifactExpiresAt: time.Now().Add(time.Hour)})
		}
		return results
	}

	// Drive cycles until both jobs settle; the failing one needs its
	// backoff to elapse between attempts.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q.RunCycle(context.Background(), handler, 2)

		ok, err := q.Job(context.Background(), okID)
		require.NoError(t, err)
		bad, err := q.Job(context.Background(), badID)
		require.NoError(t, err)
		if ok.Terminal() && bad.Terminal() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	ok, err := q.Job(context.Background(), okID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, ok.Status)

	bad, err := q.Job(context.Background(), badID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, bad.Status)
	assert.Equal(t, "boom", bad.Error)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffBase = 50 * time.Millisecond
	cfg.BackoffMax = 100 * time.Millisecond
	q := NewMemoryQueue(cfg, setupTestLogger())
	id := submitJob(t, q)

	q.RunCycle(context.Background(), failAll(errors.New("storage read timed out")), 1)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "storage read timed out", job.Error)

	// Still inside the backoff window: the job must not be redelivered.
	delivered := false
	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		delivered = true
		return nil
	}, 1)
	assert.False(t, delivered, "job redelivered before its backoff elapsed")

	// After the backoff the job comes back with the same id.
	time.Sleep(60 * time.Millisecond)
	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		require.Len(t, batch, 1)
		assert.Equal(t, id, batch[0].ID)
		return []Result{{JobID: batch[0].ID, ArtifactExpiresAt: time.Now().Add(time.Hour)}}
	}, 1)

	job, err = q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	q := NewMemoryQueue(cfg, setupTestLogger())
	id := submitJob(t, q)

	for i := 0; i < 5; i++ {
		q.RunCycle(context.Background(), failAll(errors.New("still broken")), 1)
		time.Sleep(3 * time.Millisecond)
	}

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "still broken", job.Error)

	// The failed state is final: no further delivery may happen.
	delivered := false
	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		delivered = true
		return nil
	}, 1)
	assert.False(t, delivered)
}

func TestUnacknowledgedClaimIsRedelivered(t *testing.T) {
	cfg := testConfig()
	cfg.ClaimExpiry = 5 * time.Millisecond
	q := NewMemoryQueue(cfg, setupTestLogger())
	id := submitJob(t, q)

	// Handler acknowledges nothing.
	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		return nil
	}, 1)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)

	// After claim expiry the reclaim requeues the job with backoff; drive
	// cycles until it is delivered again and completes.
	time.Sleep(10 * time.Millisecond)
	handler := completeAll(time.Now().Add(time.Hour))
	require.Eventually(t, func() bool {
		q.RunCycle(context.Background(), handler, 1)
		job, err := q.Job(context.Background(), id)
		require.NoError(t, err)
		return job.Status == domain.JobStatusCompleted
	}, time.Second, 2*time.Millisecond)

	job, err = q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestHandlerPanicLeavesBatchUnacknowledged(t *testing.T) {
	cfg := testConfig()
	cfg.ClaimExpiry = 5 * time.Millisecond
	q := NewMemoryQueue(cfg, setupTestLogger())
	id := submitJob(t, q)

	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		panic("handler exploded")
	}, 1)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)

	time.Sleep(10 * time.Millisecond)
	handler := completeAll(time.Now().Add(time.Hour))
	require.Eventually(t, func() bool {
		q.RunCycle(context.Background(), handler, 1)
		job, err := q.Job(context.Background(), id)
		require.NoError(t, err)
		return job.Status == domain.JobStatusCompleted
	}, time.Second, 2*time.Millisecond)
}

func TestRunCycleShieldsHandlerFromCallerCancellation(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())
	id := submitJob(t, q)

	// Cancelling the polling context mid-batch (what draining does) must not
	// cancel the context the handler is working on.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawErr error
	q.RunCycle(ctx, func(hctx context.Context, batch []*domain.ExportJob) []Result {
		cancel()
		sawErr = hctx.Err()
		results := make([]Result, 0, len(batch))
		for _, job := range batch {
			results = append(results, Result{JobID: job.ID, ArtifactExpiresAt: time.Now().Add(time.Hour)})
		}
		return results
	}, 1)

	assert.NoError(t, sawErr)

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
}

func TestBatchSizeBoundsClaim(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())
	for i := 0; i < 5; i++ {
		submitJob(t, q)
	}

	var seen int
	q.RunCycle(context.Background(), func(ctx context.Context, batch []*domain.ExportJob) []Result {
		seen = len(batch)
		results := make([]Result, 0, len(batch))
		for _, job := range batch {
			results = append(results, Result{JobID: job.ID, ArtifactExpiresAt: time.Now().Add(time.Hour)})
		}
		return results
	}, 2)

	assert.Equal(t, 2, seen)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, depth)
}

func TestCloseRejectsSubmit(t *testing.T) {
	q := NewMemoryQueue(testConfig(), setupTestLogger())
	require.NoError(t, q.Close())

	_, err := q.Submit(context.Background(), SubmitParams{
		ProjectUnitID: uuid.New(),
		RequestedAt:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestBackoffGrowsExponentiallyWithCap(t *testing.T) {
	cfg := Config{
		MaxAttempts: 10,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{20, time.Minute},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, cfg.Backoff(tc.attempts), "attempts=%d", tc.attempts)
	}
}
