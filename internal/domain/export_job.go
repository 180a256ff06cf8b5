package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of an export job
type JobStatus string

// Possible job status values
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Common validation errors for ExportJob
var (
	ErrEmptyJobID         = errors.New("export job ID cannot be empty")
	ErrEmptyProjectUnitID = errors.New("export job project unit ID cannot be empty")
	ErrInvalidJobStatus   = errors.New("invalid export job status")

	// ErrIllegalTransition is returned when a status change would leave a
	// terminal state or skip over the processing claim.
	ErrIllegalTransition = errors.New("illegal export job status transition")
)

// ExportJob represents one request to export a project unit's translated
// content as a downloadable archive. The record is owned by the job queue;
// all status changes go through the Mark* methods so the transition rules
// hold no matter which queue backend is driving the job.
//
// Terminal states (completed, failed) are immutable. A retried job moves
// processing back to queued for redelivery; that is the only backward edge.
type ExportJob struct {
	ID            uuid.UUID  `json:"id"`
	ProjectUnitID uuid.UUID  `json:"project_unit_id"`
	BookIDs       []int      `json:"book_ids,omitempty"` // nil means all books of the unit
	RequestedBy   string     `json:"requested_by"`
	RequestedAt   time.Time  `json:"requested_at"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"` // 0-100
	Attempts      int        `json:"attempts"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // artifact expiry, set on completion
	Error         string     `json:"error,omitempty"`
}

// NewExportJob creates a new ExportJob in the queued state with a freshly
// generated ID. Returns an error if validation fails.
func NewExportJob(
	projectUnitID uuid.UUID,
	bookIDs []int,
	requestedBy string,
	requestedAt time.Time,
) (*ExportJob, error) {
	job := &ExportJob{
		ID:            uuid.New(),
		ProjectUnitID: projectUnitID,
		BookIDs:       bookIDs,
		RequestedBy:   requestedBy,
		RequestedAt:   requestedAt.UTC(),
		Status:        JobStatusQueued,
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return job, nil
}

// Validate checks if the ExportJob has valid data.
func (j *ExportJob) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}

	if j.ProjectUnitID == uuid.Nil {
		return ErrEmptyProjectUnitID
	}

	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}

	return nil
}

// Terminal reports whether the job has reached a final state.
func (j *ExportJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkProcessing transitions a queued job to processing and records the
// claim time. The attempt counter increments here: one claim, one attempt.
func (j *ExportJob) MarkProcessing(now time.Time) error {
	if j.Status != JobStatusQueued {
		return ErrIllegalTransition
	}

	now = now.UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.Attempts++
	return nil
}

// MarkRequeued returns a processing job to the queued state for redelivery,
// keeping the last error for observability. The job keeps its original ID so
// downstream idempotent operations (artifact overwrite) remain safe.
func (j *ExportJob) MarkRequeued(errMsg string) error {
	if j.Status != JobStatusProcessing {
		return ErrIllegalTransition
	}

	j.Status = JobStatusQueued
	j.Error = errMsg
	return nil
}

// MarkCompleted transitions a processing job to completed. expiresAt mirrors
// the artifact record's expiry so a poller can tell how long the download
// stays available.
func (j *ExportJob) MarkCompleted(now, expiresAt time.Time) error {
	if j.Status != JobStatusProcessing {
		return ErrIllegalTransition
	}

	now = now.UTC()
	expiresAt = expiresAt.UTC()
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.CompletedAt = &now
	j.ExpiresAt = &expiresAt
	j.Error = ""
	return nil
}

// MarkFailed transitions a processing job to failed with the captured error
// message. This transition is final.
func (j *ExportJob) MarkFailed(now time.Time, errMsg string) error {
	if j.Status != JobStatusProcessing {
		return ErrIllegalTransition
	}

	now = now.UTC()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = errMsg
	return nil
}

// Clone returns a deep copy of the job. Queue backends hand copies to
// handlers so a handler cannot mutate the queue's record directly.
func (j *ExportJob) Clone() *ExportJob {
	clone := *j
	if j.BookIDs != nil {
		clone.BookIDs = append([]int(nil), j.BookIDs...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		clone.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		clone.CompletedAt = &t
	}
	if j.ExpiresAt != nil {
		t := *j.ExpiresAt
		clone.ExpiresAt = &t
	}
	return &clone
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
