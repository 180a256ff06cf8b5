package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/calebwren/versio-api/internal/api/shared"
	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/export"
	"github.com/calebwren/versio-api/internal/queue"
	"github.com/calebwren/versio-api/internal/store"
)

// CreateExportRequest is the body for starting an export. A nil or absent
// book_ids selects every book of the project unit.
type CreateExportRequest struct {
	BookIDs     []int  `json:"book_ids"     validate:"omitempty,min=1,dive,gt=0"`
	RequestedBy string `json:"requested_by" validate:"omitempty,max=320"`
}

// ExportJobResponse is the job record as clients see it.
type ExportJobResponse struct {
	ID            string     `json:"id"`
	ProjectUnitID string     `json:"project_unit_id"`
	BookIDs       []int      `json:"book_ids,omitempty"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	Attempts      int        `json:"attempts"`
	RequestedAt   time.Time  `json:"requested_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	DownloadURL   string     `json:"download_url,omitempty"`
}

// ArtifactOpener reads saved export archives.
type ArtifactOpener interface {
	Open(ctx context.Context, jobID uuid.UUID) (io.ReadCloser, int64, error)
}

// ExportHandler handles export-related HTTP requests.
type ExportHandler struct {
	queue     queue.Queue
	artifacts ArtifactOpener
	assembler *export.Assembler
	content   store.ContentReader
	validator *validator.Validate
}

// NewExportHandler creates a new ExportHandler.
func NewExportHandler(
	q queue.Queue,
	artifacts ArtifactOpener,
	assembler *export.Assembler,
	content store.ContentReader,
) *ExportHandler {
	return &ExportHandler{
		queue:     q,
		artifacts: artifacts,
		assembler: assembler,
		content:   content,
		validator: validator.New(),
	}
}

// CreateExport handles POST /api/projects/{projectUnitID}/exports. The book
// selection is validated against the project before anything is enqueued, so
// a bad request fails here rather than as a doomed job.
func (h *ExportHandler) CreateExport(w http.ResponseWriter, r *http.Request) {
	projectUnitID, err := uuid.Parse(chi.URLParam(r, "projectUnitID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid project unit ID")
		return
	}

	var req CreateExportRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if err := h.validateSelection(r.Context(), projectUnitID, req.BookIDs); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	jobID, err := h.queue.Submit(r.Context(), queue.SubmitParams{
		ProjectUnitID: projectUnitID,
		BookIDs:       req.BookIDs,
		RequestedBy:   req.RequestedBy,
		RequestedAt:   time.Now().UTC(),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	job, err := h.queue.Job(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, jobToResponse(job))
}

// validateSelection checks that every requested book belongs to the project
// unit, and that the unit has books at all.
func (h *ExportHandler) validateSelection(
	ctx context.Context,
	projectUnitID uuid.UUID,
	bookIDs []int,
) error {
	books, err := h.content.ProjectBooks(ctx, projectUnitID)
	if err != nil {
		return err
	}
	if len(books) == 0 {
		return fmt.Errorf("%w %s", domain.ErrNoBooks, projectUnitID)
	}

	known := make(map[int]bool, len(books))
	for _, b := range books {
		known[b.ID] = true
	}
	for _, id := range bookIDs {
		if !known[id] {
			return fmt.Errorf("%w: book %d", domain.ErrBookNotInProject, id)
		}
	}
	return nil
}

// GetExport handles GET /api/exports/{jobID}.
func (h *ExportHandler) GetExport(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.queue.Job(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// DownloadExport handles GET /api/exports/{jobID}/download. The archive must
// still be within its TTL; an expired artifact reads as not found even when
// the job record says completed.
func (h *ExportHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.queue.Job(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if job.Status != domain.JobStatusCompleted {
		shared.RespondWithError(w, r, http.StatusConflict,
			"Export is not completed; current status: "+string(job.Status))
		return
	}

	rc, size, err := h.artifacts.Open(r.Context(), jobID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+h.downloadFilename(r.Context(), job.ProjectUnitID)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; all we can do is log.
		slog.Error("failed to stream export archive",
			"job_id", jobID,
			"trace_id", shared.GetTraceID(r.Context()),
			"error", err)
	}
}

// StreamArchive handles GET /api/projects/{projectUnitID}/archive: a
// synchronous export that compresses straight onto the response without
// touching the queue or the artifact store. Meant for small selections.
func (h *ExportHandler) StreamArchive(w http.ResponseWriter, r *http.Request) {
	projectUnitID, err := uuid.Parse(chi.URLParam(r, "projectUnitID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid project unit ID")
		return
	}

	bookIDs, err := parseBookIDs(r.URL.Query()["book_id"])
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid book_id parameter")
		return
	}

	docs, err := h.assembler.Assemble(r.Context(), projectUnitID, bookIDs)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	rc, err := export.StreamArchive(export.BuildEntries(docs))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="`+h.downloadFilename(r.Context(), projectUnitID)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("failed to stream archive",
			"project_unit_id", projectUnitID,
			"trace_id", shared.GetTraceID(r.Context()),
			"error", err)
	}
}

func parseBookIDs(raw []string) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid book id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// filenameSanitizer collapses anything that could break a Content-Disposition
// header or a filesystem path.
var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// downloadFilename derives the archive filename from the project's display
// name, falling back to a generic name when the lookup fails.
func (h *ExportHandler) downloadFilename(ctx context.Context, projectUnitID uuid.UUID) string {
	name, err := h.content.ProjectDisplayName(ctx, projectUnitID)
	if err != nil || name == "" {
		return "export.zip"
	}
	safe := filenameSanitizer.ReplaceAllString(name, "_")
	if safe == "" || safe == "_" {
		return "export.zip"
	}
	return safe + ".zip"
}

// jobToResponse converts a domain.ExportJob to its DTO. Completed jobs get a
// download URL.
func jobToResponse(job *domain.ExportJob) ExportJobResponse {
	resp := ExportJobResponse{
		ID:            job.ID.String(),
		ProjectUnitID: job.ProjectUnitID.String(),
		BookIDs:       job.BookIDs,
		Status:        string(job.Status),
		Progress:      job.Progress,
		Attempts:      job.Attempts,
		RequestedAt:   job.RequestedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		ExpiresAt:     job.ExpiresAt,
		Error:         job.Error,
	}
	if job.Status == domain.JobStatusCompleted {
		resp.DownloadURL = "/api/exports/" + job.ID.String() + "/download"
	}
	return resp
}
