// Package lifecycle coordinates the service's background machinery: the
// shared worker context, the artifact sweep, the operational heartbeat, and
// the running → draining → stopped shutdown sequence.
package lifecycle

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/export"
	"github.com/calebwren/versio-api/internal/queue"
)

// State names the coordinator's lifecycle phase.
type State int32

const (
	// StateRunning accepts new work.
	StateRunning State = iota
	// StateDraining has stopped claiming new work and is waiting for
	// in-flight jobs to settle.
	StateDraining
	// StateStopped has shut down all background machinery.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sweeper reaps expired artifacts.
type Sweeper interface {
	Sweep() int
}

// DepthReader reports how many jobs await delivery.
type DepthReader interface {
	Depth(ctx context.Context) (int, error)
}

// Config holds the coordinator's timing knobs.
type Config struct {
	// HeartbeatInterval is the delay between operational log lines.
	HeartbeatInterval time.Duration

	// SweepInterval is the delay between artifact sweeps.
	SweepInterval time.Duration

	// DrainGrace bounds how long Shutdown waits for in-flight jobs.
	DrainGrace time.Duration

	// DrainPoll is the delay between drain-progress checks.
	DrainPoll time.Duration
}

// Stats is a point-in-time snapshot of the coordinator's counters.
type Stats struct {
	Processed   uint64
	Failed      uint64
	Active      int64
	AvgDuration time.Duration
}

// Coordinator owns the worker context and the background tickers. Create it
// with NewCoordinator, wire Hooks() into the export worker, call Start once,
// and call Shutdown exactly once when the process is asked to stop.
type Coordinator struct {
	cfg       Config
	logger    *slog.Logger
	sweeper   Sweeper
	depth     DepthReader
	startOnce sync.Once
	stopOnce  sync.Once

	state atomic.Int32

	workCtx    context.Context
	cancelWork context.CancelFunc

	tickCtx     context.Context
	cancelTicks context.CancelFunc
	tickers     sync.WaitGroup

	processed     atomic.Uint64
	failed        atomic.Uint64
	active        atomic.Int64
	totalDuration atomic.Int64 // nanoseconds across settled jobs
}

// NewCoordinator creates a Coordinator in the running state.
func NewCoordinator(cfg Config, sweeper Sweeper, depth DepthReader, logger *slog.Logger) *Coordinator {
	workCtx, cancelWork := context.WithCancel(context.Background())
	tickCtx, cancelTicks := context.WithCancel(context.Background())

	return &Coordinator{
		cfg:         cfg,
		logger:      logger,
		sweeper:     sweeper,
		depth:       depth,
		workCtx:     workCtx,
		cancelWork:  cancelWork,
		tickCtx:     tickCtx,
		cancelTicks: cancelTicks,
	}
}

// WorkContext is the context under which queue polling runs. It is cancelled
// the moment draining begins, which stops new claims while letting in-flight
// batches finish on their own contexts.
func (c *Coordinator) WorkContext() context.Context {
	return c.workCtx
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Hooks returns the worker observation hooks that feed the coordinator's
// counters.
func (c *Coordinator) Hooks() export.Hooks {
	return export.Hooks{
		OnBatchStart: func(size int) {
			c.active.Add(int64(size))
		},
		OnBatchEnd: func(size int) {
			c.active.Add(int64(-size))
		},
		OnJobSuccess: func(_ uuid.UUID, d time.Duration) {
			c.processed.Add(1)
			c.totalDuration.Add(int64(d))
		},
		OnJobFailure: func(_ uuid.UUID, d time.Duration, _ error) {
			c.failed.Add(1)
			c.totalDuration.Add(int64(d))
		},
	}
}

// Stats snapshots the counters.
func (c *Coordinator) Stats() Stats {
	processed := c.processed.Load()
	failed := c.failed.Load()

	var avg time.Duration
	if settled := processed + failed; settled > 0 {
		avg = time.Duration(c.totalDuration.Load() / int64(settled))
	}

	return Stats{
		Processed:   processed,
		Failed:      failed,
		Active:      c.active.Load(),
		AvgDuration: avg,
	}
}

// Start launches the sweep and heartbeat tickers. Calling Start more than
// once is a no-op.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.tickers.Add(2)
		go c.runSweep()
		go c.runHeartbeat()
	})
}

func (c *Coordinator) runSweep() {
	defer c.tickers.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.tickCtx.Done():
			return
		case <-ticker.C:
			c.sweeper.Sweep()
		}
	}
}

func (c *Coordinator) runHeartbeat() {
	defer c.tickers.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.tickCtx.Done():
			return
		case <-ticker.C:
			c.logHeartbeat()
		}
	}
}

// logHeartbeat emits one operational status line.
func (c *Coordinator) logHeartbeat() {
	stats := c.Stats()

	depth := -1
	if d, err := c.depth.Depth(c.tickCtx); err == nil {
		depth = d
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.logger.Info("heartbeat",
		"state", c.State().String(),
		"processed", stats.Processed,
		"failed", stats.Failed,
		"active", stats.Active,
		"avg_job_ms", stats.AvgDuration.Milliseconds(),
		"queue_depth", depth,
		"heap_bytes", mem.HeapAlloc,
		"goroutines", runtime.NumGoroutine())
}

// Shutdown drains in-flight work and stops the background tickers. New
// claims stop immediately; the method then waits for active jobs to settle,
// up to the drain grace period or ctx's deadline, whichever comes first.
// Jobs still running after that are abandoned to the queue's claim-expiry
// redelivery, with a warning.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateDraining))
		c.cancelWork()
		c.logger.Info("draining: no new work will be claimed",
			"active", c.active.Load())

		c.waitForDrain(ctx)

		c.cancelTicks()
		c.tickers.Wait()
		c.state.Store(int32(StateStopped))
		c.logger.Info("lifecycle stopped")
	})
}

func (c *Coordinator) waitForDrain(ctx context.Context) {
	deadline := time.NewTimer(c.cfg.DrainGrace)
	defer deadline.Stop()
	poll := time.NewTicker(c.cfg.DrainPoll)
	defer poll.Stop()

	for {
		active := c.active.Load()
		if active == 0 {
			c.logger.Info("drain complete")
			return
		}

		select {
		case <-ctx.Done():
			c.logger.Warn("forced shutdown: abandoning in-flight jobs to redelivery",
				"active", active)
			return
		case <-deadline.C:
			c.logger.Warn("drain grace period elapsed: abandoning in-flight jobs to redelivery",
				"active", active)
			return
		case <-poll.C:
		}
	}
}

// Any queue backend can serve as the heartbeat's depth source.
var _ DepthReader = (queue.Queue)(nil)
