package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/calebwren/versio-api/internal/domain"
)

// Redis key layout. Job records are JSON values; scheduling state lives in a
// pending list plus two sorted sets scored by unix seconds.
const (
	redisJobKeyPrefix = "versio:export:job:"
	redisPendingKey   = "versio:export:pending"
	redisDelayedKey   = "versio:export:delayed" // score: earliest redelivery
	redisClaimedKey   = "versio:export:claimed" // score: claim deadline

	// Terminal job records are kept around for polling clients well past
	// the artifact TTL, then reclaimed by Redis itself.
	redisRecordTTL = 24 * time.Hour
)

// RedisQueue is the durable Queue backend. Submissions survive process
// restarts; an unacknowledged claim is reclaimed from the claimed set by
// whichever worker polls next, so a crashed worker's jobs are redelivered.
type RedisQueue struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewRedisQueue creates a RedisQueue on an existing client.
func NewRedisQueue(rdb *redis.Client, cfg Config, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{rdb: rdb, cfg: cfg, logger: logger}
}

// Submit persists the job record and pushes its id onto the pending list.
func (q *RedisQueue) Submit(ctx context.Context, params SubmitParams) (uuid.UUID, error) {
	job, err := domain.NewExportJob(
		params.ProjectUnitID,
		params.BookIDs,
		params.RequestedBy,
		params.RequestedAt,
	)
	if err != nil {
		return uuid.Nil, err
	}

	if err := q.saveJob(ctx, job); err != nil {
		return uuid.Nil, err
	}

	if err := q.rdb.LPush(ctx, redisPendingKey, job.ID.String()).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: push pending job: %v", domain.ErrTransient, err)
	}

	q.logger.Debug("export job submitted",
		"job_id", job.ID,
		"project_unit_id", job.ProjectUnitID)

	return job.ID, nil
}

// Work polls for batches at a fixed interval until ctx is cancelled.
func (q *RedisQueue) Work(ctx context.Context, handler Handler, opts WorkOptions) error {
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
			if err := q.runCycle(ctx, handler, opts.BatchSize); err != nil {
				q.logger.Error("queue cycle failed", "error", err)
			}
		}
	}
}

// runCycle performs one poll against Redis.
func (q *RedisQueue) runCycle(ctx context.Context, handler Handler, batchSize int) error {
	now := time.Now().UTC()

	if err := q.moveDue(ctx, now); err != nil {
		return err
	}
	if err := q.reclaimExpired(ctx, now); err != nil {
		return err
	}

	batch, err := q.claimBatch(ctx, now, batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	// The handler runs on a context that survives cancellation of the poll
	// loop's context: draining stops new claims, it does not abort work the
	// queue already handed out.
	results := q.invoke(context.WithoutCancel(ctx), handler, batch)
	return q.applyResults(ctx, now, batch, results)
}

// moveDue shifts delayed jobs whose backoff has elapsed back onto the
// pending list.
func (q *RedisQueue) moveDue(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, redisDelayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, redisPendingKey, id)
		pipe.ZRem(ctx, redisDelayedKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// reclaimExpired applies the retry policy to claims whose deadline passed
// without acknowledgement.
func (q *RedisQueue) reclaimExpired(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, redisClaimedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}

	for _, id := range ids {
		err := q.settleFailure(ctx, now, id, "claim expired before acknowledgement")
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			// The record already aged out of Redis; drop the orphaned claim
			// so it is not retried on every poll.
			q.logger.Warn("dropping expired claim without a record", "job_id", id)
			if zerr := q.rdb.ZRem(ctx, redisClaimedKey, id).Err(); zerr != nil {
				q.logger.Error("failed to drop orphaned claim", "job_id", id, "error", zerr)
			}
			continue
		}
		q.logger.Error("failed to reclaim expired job", "job_id", id, "error", err)
	}
	return nil
}

// claimBatch pops up to batchSize pending ids, marks their records
// processing, and registers their claim deadlines.
func (q *RedisQueue) claimBatch(
	ctx context.Context,
	now time.Time,
	batchSize int,
) ([]*domain.ExportJob, error) {
	ids, err := q.rdb.LPopCount(ctx, redisPendingKey, batchSize).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pop pending jobs: %v", domain.ErrTransient, err)
	}

	deadline := now.Add(q.cfg.ClaimExpiry)
	batch := make([]*domain.ExportJob, 0, len(ids))
	for _, id := range ids {
		// The pop above is the only removal from the pending list, so every
		// failure path below must either drop the id deliberately or put it
		// back; losing it silently would break at-least-once delivery.
		job, err := q.loadJob(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			q.logger.Warn("dropping pending job without a record", "job_id", id)
			continue
		}
		if err != nil {
			q.logger.Error("failed to load claimed job record, returning to pending",
				"job_id", id, "error", err)
			q.requeuePending(ctx, id)
			continue
		}

		if err := job.MarkProcessing(now); err != nil {
			// Stale pending entry for a job that is no longer queued.
			q.logger.Error("failed to claim job", "job_id", id, "error", err)
			continue
		}
		if err := q.saveJob(ctx, job); err != nil {
			// The stored record still says queued, so the id goes back.
			q.logger.Error("failed to save claimed job record, returning to pending",
				"job_id", id, "error", err)
			q.requeuePending(ctx, id)
			continue
		}
		if err := q.rdb.ZAdd(ctx, redisClaimedKey, redis.Z{
			Score:  float64(deadline.Unix()),
			Member: id,
		}).Err(); err != nil {
			q.logger.Error("failed to register claim deadline", "job_id", id, "error", err)
		}

		batch = append(batch, job.Clone())
	}

	return batch, nil
}

// invoke runs the handler, converting a panic into an absent result set so
// the claimed set redelivers the whole batch after expiry.
func (q *RedisQueue) invoke(
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

// applyResults settles acknowledged jobs. Unacknowledged jobs stay in the
// claimed set until their deadline passes.
func (q *RedisQueue) applyResults(
	ctx context.Context,
	now time.Time,
	batch []*domain.ExportJob,
	results []Result,
) error {
	byID := make(map[uuid.UUID]Result, len(results))
	for _, res := range results {
		byID[res.JobID] = res
	}

	for _, claimed := range batch {
		res, acked := byID[claimed.ID]
		if !acked {
			q.logger.Warn("job not acknowledged by handler, awaiting claim expiry",
				"job_id", claimed.ID)
			continue
		}

		id := claimed.ID.String()
		if res.Err == nil {
			if err := q.settleSuccess(ctx, now, id, res.ArtifactExpiresAt); err != nil {
				q.logger.Error("failed to complete job", "job_id", id, "error", err)
			}
			continue
		}

		if err := q.settleFailure(ctx, now, id, res.Err.Error()); err != nil {
			q.logger.Error("failed to settle job failure", "job_id", id, "error", err)
		}
	}

	return nil
}

// settleSuccess marks the record completed and drops the claim.
func (q *RedisQueue) settleSuccess(
	ctx context.Context,
	now time.Time,
	id string,
	artifactExpiresAt time.Time,
) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if err := job.MarkCompleted(now, artifactExpiresAt); err != nil {
		return err
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.rdb.ZRem(ctx, redisClaimedKey, id).Err()
}

// settleFailure requeues with backoff via the delayed set, or fails the
// record for good once the attempt budget is spent.
func (q *RedisQueue) settleFailure(ctx context.Context, now time.Time, id, errMsg string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		if err := job.MarkFailed(now, errMsg); err != nil {
			return err
		}
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		q.logger.Warn("export job failed permanently",
			"job_id", id,
			"attempts", job.Attempts,
			"error", errMsg)
		return q.rdb.ZRem(ctx, redisClaimedKey, id).Err()
	}

	if err := job.MarkRequeued(errMsg); err != nil {
		return err
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}

	backoff := q.cfg.Backoff(job.Attempts)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, redisClaimedKey, id)
	pipe.ZAdd(ctx, redisDelayedKey, redis.Z{
		Score:  float64(now.Add(backoff).Unix()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: schedule redelivery: %v", domain.ErrTransient, err)
	}

	q.logger.Info("export job requeued",
		"job_id", id,
		"attempts", job.Attempts,
		"backoff", backoff,
		"error", errMsg)
	return nil
}

// requeuePending returns an id to the pending list after a claim attempt
// that left the stored record untouched.
func (q *RedisQueue) requeuePending(ctx context.Context, id string) {
	if err := q.rdb.LPush(ctx, redisPendingKey, id).Err(); err != nil {
		q.logger.Error("failed to return job to pending list", "job_id", id, "error", err)
	}
}

// Job returns a copy of the job record.
func (q *RedisQueue) Job(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error) {
	return q.loadJob(ctx, id.String())
}

// Depth counts pending plus delayed jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	pending, err := q.rdb.LLen(ctx, redisPendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: pending length: %v", domain.ErrTransient, err)
	}
	delayed, err := q.rdb.ZCard(ctx, redisDelayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: delayed cardinality: %v", domain.ErrTransient, err)
	}
	return int(pending + delayed), nil
}

// Close closes the underlying Redis client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) saveJob(ctx context.Context, job *domain.ExportJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := q.rdb.Set(ctx, redisJobKeyPrefix+job.ID.String(), payload, redisRecordTTL).Err(); err != nil {
		return fmt.Errorf("%w: save job record: %v", domain.ErrTransient, err)
	}
	return nil
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*domain.ExportJob, error) {
	data, err := q.rdb.Get(ctx, redisJobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load job record: %v", domain.ErrTransient, err)
	}

	var job domain.ExportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &job, nil
}
