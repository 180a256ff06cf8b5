package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/queue"
)

// ArtifactSaver persists a finished archive and reports when it expires.
// The write callback produces the archive bytes; the saver decides where
// they land and makes the result visible atomically.
type ArtifactSaver interface {
	Save(ctx context.Context, jobID uuid.UUID, write func(w io.Writer) error) (time.Time, error)
}

// Hooks are optional observation points around batch processing. Nil fields
// are skipped. Hooks must not block; they run on the worker's goroutines.
type Hooks struct {
	OnBatchStart func(size int)
	OnBatchEnd   func(size int)
	OnJobSuccess func(jobID uuid.UUID, duration time.Duration)
	OnJobFailure func(jobID uuid.UUID, duration time.Duration, err error)
}

// Worker turns claimed export jobs into saved archives. One worker handles
// whole batches; jobs within a batch run concurrently and settle
// independently, so one job's failure never decides another's fate.
type Worker struct {
	assembler *Assembler
	artifacts ArtifactSaver
	hooks     Hooks
	logger    *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(assembler *Assembler, artifacts ArtifactSaver, hooks Hooks, logger *slog.Logger) *Worker {
	return &Worker{
		assembler: assembler,
		artifacts: artifacts,
		hooks:     hooks,
		logger:    logger,
	}
}

// HandleBatch is the queue.Handler for export jobs. Every claimed job gets a
// result: success carries the artifact expiry, failure carries the error.
func (w *Worker) HandleBatch(ctx context.Context, batch []*domain.ExportJob) []queue.Result {
	if w.hooks.OnBatchStart != nil {
		w.hooks.OnBatchStart(len(batch))
	}
	defer func() {
		if w.hooks.OnBatchEnd != nil {
			w.hooks.OnBatchEnd(len(batch))
		}
	}()

	results := make([]queue.Result, len(batch))

	var wg sync.WaitGroup
	for i, job := range batch {
		wg.Add(1)
		go func(i int, job *domain.ExportJob) {
			defer wg.Done()
			results[i] = w.processJob(ctx, job)
		}(i, job)
	}
	wg.Wait()

	return results
}

// processJob runs one job end to end. A panic settles the job as failed
// rather than taking down the batch.
func (w *Worker) processJob(ctx context.Context, job *domain.ExportJob) (res queue.Result) {
	start := time.Now()
	res.JobID = job.ID

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("export job panicked: %v", r)
			res.ArtifactExpiresAt = time.Time{}
		}
		if res.Err != nil {
			w.logger.Error("export job failed",
				"job_id", job.ID,
				"project_unit_id", job.ProjectUnitID,
				"duration", time.Since(start),
				"error", res.Err)
			if w.hooks.OnJobFailure != nil {
				w.hooks.OnJobFailure(job.ID, time.Since(start), res.Err)
			}
			return
		}
		w.logger.Info("export job completed",
			"job_id", job.ID,
			"project_unit_id", job.ProjectUnitID,
			"duration", time.Since(start))
		if w.hooks.OnJobSuccess != nil {
			w.hooks.OnJobSuccess(job.ID, time.Since(start))
		}
	}()

	docs, err := w.assembler.Assemble(ctx, job.ProjectUnitID, job.BookIDs)
	if err != nil {
		res.Err = err
		return res
	}

	entries := BuildEntries(docs)

	expiresAt, err := w.artifacts.Save(ctx, job.ID, func(dst io.Writer) error {
		return WriteArchive(dst, entries)
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.ArtifactExpiresAt = expiresAt
	return res
}

// BuildEntries renders each document to USFM and names the archive entry
// after its book code.
func BuildEntries(docs []*domain.BookDocument) []Entry {
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, Entry{
			Name: doc.BookCode + ".usfm",
			Body: strings.NewReader(RenderUSFM(doc)),
		})
	}
	return entries
}
