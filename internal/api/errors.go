package api

import (
	"errors"
	"net/http"

	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/queue"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes by error
// kind, never by message, so internal wording can change without breaking
// clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusUnprocessableEntity

	case domain.IsNotFoundError(err):
		return http.StatusNotFound

	case domain.IsPermanentContentError(err):
		return http.StatusUnprocessableEntity

	case errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly message for the
// error. Internal details stay in the logs.
func GetSafeErrorMessage(err error) string {
	switch {
	case err == nil:
		return "An unexpected error occurred"

	case errors.Is(err, domain.ErrBookNotInProject):
		return "One or more requested books are not part of this project"

	case errors.Is(err, domain.ErrNoBooks):
		return "Project has no books to export"

	case errors.Is(err, domain.ErrJobNotFound):
		return "Export job not found"

	case errors.Is(err, domain.ErrArtifactNotFound):
		return "Export archive not found or expired"

	case errors.Is(err, domain.ErrEmptyArchive):
		return "Export would produce an empty archive"

	case domain.IsValidationError(err):
		return "Invalid request"

	case domain.IsNotFoundError(err):
		return "Not found"

	case errors.Is(err, queue.ErrQueueClosed):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}
