package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
)

// MemoryQueue is the in-process Queue backend. It carries the complete
// retry/backoff/claim-expiry semantics so tests and single-node deployments
// exercise exactly the contract the Redis backend provides.
type MemoryQueue struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	jobs   map[uuid.UUID]*memoryJob
	closed bool
}

// memoryJob pairs the job record with the queue's scheduling state.
type memoryJob struct {
	job *domain.ExportJob

	// nextAttemptAt gates redelivery while the job is queued.
	nextAttemptAt time.Time

	// claimDeadline bounds how long a processing claim may go unacknowledged.
	claimDeadline time.Time
}

// NewMemoryQueue creates a new MemoryQueue with the given retry policy.
func NewMemoryQueue(cfg Config, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[uuid.UUID]*memoryJob),
	}
}

// Submit creates a queued export job and returns its id.
func (q *MemoryQueue) Submit(ctx context.Context, params SubmitParams) (uuid.UUID, error) {
	job, err := domain.NewExportJob(
		params.ProjectUnitID,
		params.BookIDs,
		params.RequestedBy,
		params.RequestedAt,
	)
	if err != nil {
		return uuid.Nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return uuid.Nil, ErrQueueClosed
	}

	q.jobs[job.ID] = &memoryJob{job: job}

	q.logger.Debug("export job submitted",
		"job_id", job.ID,
		"project_unit_id", job.ProjectUnitID,
		"book_count", len(job.BookIDs))

	return job.ID, nil
}

// Work polls for batches at a fixed interval until ctx is cancelled.
func (q *MemoryQueue) Work(ctx context.Context, handler Handler, opts WorkOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.RunCycle(ctx, handler, opts.BatchSize)
		}
	}
}

// RunCycle performs one poll: reclaim expired claims, claim up to batchSize
// due jobs, invoke the handler, and apply its results. Exported so tests and
// embedders can drive the queue deterministically without the Work ticker.
func (q *MemoryQueue) RunCycle(ctx context.Context, handler Handler, batchSize int) {
	now := time.Now().UTC()

	batch := q.claimBatch(now, batchSize)
	if len(batch) == 0 {
		return
	}

	// The handler runs on a context that survives cancellation of the poll
	// loop's context: draining stops new claims, it does not abort work the
	// queue already handed out.
	results := q.invoke(context.WithoutCancel(ctx), handler, batch)

	q.applyResults(now, batch, results)
}

// claimBatch reclaims expired claims and then claims up to batchSize due
// jobs, returning copies for the handler.
func (q *MemoryQueue) claimBatch(now time.Time, batchSize int) []*domain.ExportJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Jobs whose claim went unacknowledged past the expiry window re-enter
	// the retry policy before anything new is claimed.
	for _, mj := range q.jobs {
		if mj.job.Status == domain.JobStatusProcessing && !mj.claimDeadline.After(now) {
			q.retryOrFail(now, mj, "claim expired before acknowledgement")
		}
	}

	// Deterministic claim order keeps tests stable; across jobs the queue
	// guarantees no ordering anyway.
	due := make([]*memoryJob, 0)
	for _, mj := range q.jobs {
		if mj.job.Status == domain.JobStatusQueued && !mj.nextAttemptAt.After(now) {
			due = append(due, mj)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].job.RequestedAt.Equal(due[j].job.RequestedAt) {
			return due[i].job.RequestedAt.Before(due[j].job.RequestedAt)
		}
		return due[i].job.ID.String() < due[j].job.ID.String()
	})

	if len(due) > batchSize {
		due = due[:batchSize]
	}

	batch := make([]*domain.ExportJob, 0, len(due))
	for _, mj := range due {
		if err := mj.job.MarkProcessing(now); err != nil {
			q.logger.Error("failed to claim job", "job_id", mj.job.ID, "error", err)
			continue
		}
		mj.claimDeadline = now.Add(q.cfg.ClaimExpiry)
		batch = append(batch, mj.job.Clone())
	}

	return batch
}

// invoke runs the handler, converting a panic into an absent result set so
// the claim expiry path redelivers the whole batch.
func (q *MemoryQueue) invoke(
	ctx context.Context,
	handler Handler,
	batch []*domain.ExportJob,
) (results []Result) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("batch handler panicked, batch left unacknowledged",
				"batch_size", len(batch),
				"panic", fmt.Sprint(r))
			results = nil
		}
	}()

	return handler(ctx, batch)
}

// applyResults settles each claimed job according to the handler's verdict.
// Claimed jobs without a result stay processing until their claim expires.
func (q *MemoryQueue) applyResults(now time.Time, batch []*domain.ExportJob, results []Result) {
	byID := make(map[uuid.UUID]Result, len(results))
	for _, res := range results {
		byID[res.JobID] = res
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, claimed := range batch {
		mj, ok := q.jobs[claimed.ID]
		if !ok {
			continue
		}

		res, acked := byID[claimed.ID]
		if !acked {
			q.logger.Warn("job not acknowledged by handler, awaiting claim expiry",
				"job_id", claimed.ID)
			continue
		}

		if res.Err == nil {
			if err := mj.job.MarkCompleted(now, res.ArtifactExpiresAt); err != nil {
				q.logger.Error("failed to complete job", "job_id", claimed.ID, "error", err)
			}
			continue
		}

		q.retryOrFail(now, mj, res.Err.Error())
	}
}

// retryOrFail requeues the job with backoff, or fails it for good once the
// attempt budget is spent. Caller holds q.mu.
func (q *MemoryQueue) retryOrFail(now time.Time, mj *memoryJob, errMsg string) {
	if mj.job.Attempts >= q.cfg.MaxAttempts {
		if err := mj.job.MarkFailed(now, errMsg); err != nil {
			q.logger.Error("failed to fail job", "job_id", mj.job.ID, "error", err)
			return
		}
		q.logger.Warn("export job failed permanently",
			"job_id", mj.job.ID,
			"attempts", mj.job.Attempts,
			"error", errMsg)
		return
	}

	if err := mj.job.MarkRequeued(errMsg); err != nil {
		q.logger.Error("failed to requeue job", "job_id", mj.job.ID, "error", err)
		return
	}

	backoff := q.cfg.Backoff(mj.job.Attempts)
	mj.nextAttemptAt = now.Add(backoff)

	q.logger.Info("export job requeued",
		"job_id", mj.job.ID,
		"attempts", mj.job.Attempts,
		"backoff", backoff,
		"error", errMsg)
}

// Job returns a copy of the job record.
func (q *MemoryQueue) Job(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	mj, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return mj.job.Clone(), nil
}

// Depth returns the number of queued jobs, including those backing off.
func (q *MemoryQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, mj := range q.jobs {
		if mj.job.Status == domain.JobStatusQueued {
			n++
		}
	}
	return n, nil
}

// Close marks the queue closed. In-flight cycles finish; new submits fail.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
