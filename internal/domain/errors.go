package domain

import (
	"errors"
	"fmt"
)

// Error kinds used across the application. Every error raised by the export
// pipeline wraps exactly one of these, so callers match with errors.Is
// instead of inspecting messages or numeric codes.
var (
	// ErrValidation is returned when a request or entity fails validation.
	// Surfaced synchronously, before any job is enqueued.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransient is returned for storage or queue connectivity failures
	// during a job's pipeline. The queue's retry policy is built for these.
	ErrTransient = errors.New("transient infrastructure failure")

	// ErrPermanentContent is returned when the job's content can never
	// produce a valid archive, regardless of how often it is retried.
	ErrPermanentContent = errors.New("permanent content failure")
)

// Specific errors, each wrapping its kind.
var (
	// ErrBookNotInProject indicates a requested book id is not associated
	// with the project unit being exported.
	ErrBookNotInProject = fmt.Errorf("%w: book not associated with project unit", ErrValidation)

	// ErrNoBooks indicates the project unit has no associated books at all.
	ErrNoBooks = fmt.Errorf("%w: project unit has no associated books", ErrNotFound)

	// ErrJobNotFound indicates the requested export job does not exist.
	ErrJobNotFound = fmt.Errorf("%w: export job", ErrNotFound)

	// ErrArtifactNotFound indicates the requested artifact has expired or
	// never existed.
	ErrArtifactNotFound = fmt.Errorf("%w: artifact", ErrNotFound)

	// ErrEmptyArchive indicates the archive would contain zero entries.
	ErrEmptyArchive = fmt.Errorf("%w: archive contains no entries", ErrPermanentContent)
)

// IsValidationError checks if the error is any kind of validation error.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermanentContentError checks if the error marks content that retrying
// cannot fix. The job queue deliberately does not consult this when deciding
// whether to redeliver; see the retry policy notes on the queue package.
func IsPermanentContentError(err error) bool {
	return errors.Is(err, ErrPermanentContent)
}
