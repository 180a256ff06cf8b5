package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/queue"
)

type fakeSweeper struct {
	calls atomic.Int32
}

func (s *fakeSweeper) Sweep() int {
	s.calls.Add(1)
	return 0
}

type fakeDepth struct{ n int }

func (d fakeDepth) Depth(ctx context.Context) (int, error) { return d.n, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testCoordinatorConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Millisecond,
		SweepInterval:     5 * time.Millisecond,
		DrainGrace:        50 * time.Millisecond,
		DrainPoll:         time.Millisecond,
	}
}

func TestHooksFeedStats(t *testing.T) {
	c := NewCoordinator(testCoordinatorConfig(), &fakeSweeper{}, fakeDepth{}, testLogger())
	hooks := c.Hooks()

	hooks.OnBatchStart(3)
	hooks.OnJobSuccess(uuid.New(), 10*time.Millisecond)
	hooks.OnJobSuccess(uuid.New(), 20*time.Millisecond)
	hooks.OnJobFailure(uuid.New(), 30*time.Millisecond, errors.New("boom"))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Processed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, int64(3), stats.Active)
	assert.Equal(t, 20*time.Millisecond, stats.AvgDuration)

	hooks.OnBatchEnd(3)
	assert.Equal(t, int64(0), c.Stats().Active)
}

func TestStartRunsSweepTicker(t *testing.T) {
	sweeper := &fakeSweeper{}
	c := NewCoordinator(testCoordinatorConfig(), sweeper, fakeDepth{}, testLogger())
	c.Start()
	defer c.Shutdown(context.Background())

	require.Eventually(t, func() bool {
		return sweeper.calls.Load() >= 2
	}, time.Second, time.Millisecond)
}

func TestShutdownTransitionsToStopped(t *testing.T) {
	c := NewCoordinator(testCoordinatorConfig(), &fakeSweeper{}, fakeDepth{}, testLogger())
	c.Start()

	assert.Equal(t, StateRunning, c.State())

	c.Shutdown(context.Background())
	assert.Equal(t, StateStopped, c.State())

	// Work context is cancelled so queue polling stops.
	select {
	case <-c.WorkContext().Done():
	default:
		t.Fatal("work context still live after shutdown")
	}

	// A second Shutdown is a no-op.
	c.Shutdown(context.Background())
	assert.Equal(t, StateStopped, c.State())
}

func TestShutdownWaitsForActiveJobs(t *testing.T) {
	c := NewCoordinator(testCoordinatorConfig(), &fakeSweeper{}, fakeDepth{}, testLogger())
	c.Start()
	hooks := c.Hooks()

	hooks.OnBatchStart(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		hooks.OnJobSuccess(uuid.New(), 10*time.Millisecond)
		hooks.OnBatchEnd(1)
	}()

	start := time.Now()
	c.Shutdown(context.Background())

	// Shutdown returned only after the in-flight job settled, well before
	// the grace period.
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, int64(0), c.Stats().Active)
	assert.Equal(t, StateStopped, c.State())
}

func TestDrainLetsClaimedJobsFinish(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.DrainGrace = time.Second

	logger := testLogger()
	q := queue.NewMemoryQueue(queue.Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		ClaimExpiry: time.Minute,
	}, logger)

	c := NewCoordinator(cfg, &fakeSweeper{}, q, logger)
	c.Start()
	hooks := c.Hooks()

	jobID, err := q.Submit(context.Background(), queue.SubmitParams{
		ProjectUnitID: uuid.New(),
		RequestedAt:   time.Now(),
	})
	require.NoError(t, err)

	claimed := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	handler := func(hctx context.Context, batch []*domain.ExportJob) []queue.Result {
		hooks.OnBatchStart(len(batch))
		defer hooks.OnBatchEnd(len(batch))

		close(claimed)
		<-release
		handlerCtxErr = hctx.Err()

		results := make([]queue.Result, 0, len(batch))
		for _, job := range batch {
			hooks.OnJobSuccess(job.ID, time.Millisecond)
			results = append(results, queue.Result{
				JobID:             job.ID,
				ArtifactExpiresAt: time.Now().Add(time.Hour),
			})
		}
		return results
	}

	go func() {
		_ = q.Work(c.WorkContext(), handler, queue.WorkOptions{
			BatchSize:    1,
			PollInterval: time.Millisecond,
		})
	}()

	<-claimed

	done := make(chan struct{})
	go func() {
		c.Shutdown(context.Background())
		close(done)
	}()

	// Draining has begun: polling is cancelled while the batch is still in
	// flight.
	require.Eventually(t, func() bool {
		return c.WorkContext().Err() != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateDraining, c.State())

	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not finish after the batch settled")
	}

	// The handler's own context stayed live through the drain, and the job
	// completed instead of being requeued.
	assert.NoError(t, handlerCtxErr)
	job, err := q.Job(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestShutdownGivesUpAfterGracePeriod(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.DrainGrace = 10 * time.Millisecond
	c := NewCoordinator(cfg, &fakeSweeper{}, fakeDepth{}, testLogger())
	c.Start()

	// A job that never settles.
	c.Hooks().OnBatchStart(1)

	done := make(chan struct{})
	go func() {
		c.Shutdown(context.Background())
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, StateStopped, c.State())
	case <-time.After(time.Second):
		t.Fatal("shutdown did not give up after the grace period")
	}
}

func TestShutdownHonorsCallerDeadline(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.DrainGrace = time.Minute
	c := NewCoordinator(cfg, &fakeSweeper{}, fakeDepth{}, testLogger())
	c.Start()

	c.Hooks().OnBatchStart(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, StateStopped, c.State())
	case <-time.After(time.Second):
		t.Fatal("shutdown ignored the caller's deadline")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
