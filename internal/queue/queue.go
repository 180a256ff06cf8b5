// Package queue provides the durable export job queue: submit plus batched,
// at-least-once consumption with retry, backoff, and claim expiry. Two
// backends implement the same contract: an in-process queue for tests and
// single-node deployments, and a Redis-backed queue for production.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
)

// Common errors returned by queue backends.
var (
	// ErrQueueClosed is returned when submitting to a closed queue.
	ErrQueueClosed = errors.New("job queue is closed")
)

// SubmitParams carries everything needed to create a new export job.
type SubmitParams struct {
	ProjectUnitID uuid.UUID
	BookIDs       []int // nil means all books of the unit
	RequestedBy   string
	RequestedAt   time.Time
}

// Result is a handler's verdict on a single job in a batch. A nil Err
// acknowledges the job as completed; a non-nil Err triggers the retry
// policy. A job with no Result at all is treated as unacknowledged and is
// redelivered once its claim expires.
type Result struct {
	JobID uuid.UUID
	Err   error

	// ArtifactExpiresAt mirrors the saved artifact's expiry onto the job
	// record. Only meaningful when Err is nil.
	ArtifactExpiresAt time.Time
}

// Handler processes one batch of claimed jobs. The slice elements are copies;
// the queue applies status changes from the returned Results, never from
// mutations of the batch.
type Handler func(ctx context.Context, batch []*domain.ExportJob) []Result

// WorkOptions configures a Work loop.
type WorkOptions struct {
	// BatchSize bounds how many jobs a single poll may claim.
	BatchSize int

	// PollInterval is the fixed delay between polls.
	PollInterval time.Duration
}

// Config holds the retry policy shared by all backends.
//
// The policy deliberately does not distinguish transient infrastructure
// failures from permanent content failures: every handler error is retried
// with the same backoff until the attempt budget runs out. Permanence is a
// judgement the queue refuses to make; a handler that knows better still
// gets its failed state after MaxAttempts, just later.
type Config struct {
	// MaxAttempts is the delivery budget per job, counting the first.
	MaxAttempts int

	// BackoffBase seeds the exponential backoff between redeliveries.
	BackoffBase time.Duration

	// BackoffMax caps the backoff.
	BackoffMax time.Duration

	// ClaimExpiry is how long a claimed job may go unacknowledged before it
	// becomes eligible for redelivery.
	ClaimExpiry time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
		ClaimExpiry: 5 * time.Minute,
	}
}

// Backoff returns the delay before the next delivery after the given number
// of completed attempts: BackoffBase * 2^(attempts-1), capped at BackoffMax.
func (c Config) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := c.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Queue is the job queue contract. Job records are owned by the queue; no
// other component writes them.
type Queue interface {
	// Submit creates a queued export job and returns its id.
	Submit(ctx context.Context, params SubmitParams) (uuid.UUID, error)

	// Work polls for batches and invokes the handler until ctx is
	// cancelled. Cancelling ctx stops polling; a batch already handed to
	// the handler runs to completion on an independent context. Delivery
	// is at-least-once; see Config for the retry policy.
	Work(ctx context.Context, handler Handler, opts WorkOptions) error

	// Job returns a copy of the job record.
	Job(ctx context.Context, id uuid.UUID) (*domain.ExportJob, error)

	// Depth returns the number of jobs waiting for delivery, including jobs
	// backing off between attempts.
	Depth(ctx context.Context) (int, error)

	// Close releases backend connections. Submit after Close returns
	// ErrQueueClosed.
	Close() error
}
