package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebwren/versio-api/internal/artifact"
	"github.com/calebwren/versio-api/internal/domain"
	"github.com/calebwren/versio-api/internal/export"
	"github.com/calebwren/versio-api/internal/mocks"
	"github.com/calebwren/versio-api/internal/queue"
	"github.com/calebwren/versio-api/internal/store"
)

type handlerFixture struct {
	router  *chi.Mux
	queue   *queue.MemoryQueue
	store   *artifact.Store
	content *mocks.ContentReader
	worker  *export.Worker
	unitID  uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	content := mocks.NewContentReader()
	unitID := uuid.New()
	book := store.Book{ID: 1, Code: "GEN", Name: "Genesis"}
	content.AddBook(unitID, book, []store.VerseRef{
		{Chapter: 1, Verse: 1},
		{Chapter: 1, Verse: 2},
	})
	content.SetText(unitID, book.ID, store.VerseRef{Chapter: 1, Verse: 1}, "In the beginning")
	content.Names[unitID] = "Genesis Draft (2026)"

	q := queue.NewMemoryQueue(queue.Config{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		ClaimExpiry: time.Minute,
	}, logger)

	artifacts, err := artifact.NewStore(t.TempDir(), time.Hour, logger)
	require.NoError(t, err)

	assembler := export.NewAssembler(content)
	worker := export.NewWorker(assembler, artifacts, export.Hooks{}, logger)

	h := NewExportHandler(q, artifacts, assembler, content)

	router := chi.NewRouter()
	router.Post("/api/projects/{projectUnitID}/exports", h.CreateExport)
	router.Get("/api/projects/{projectUnitID}/archive", h.StreamArchive)
	router.Get("/api/exports/{jobID}", h.GetExport)
	router.Get("/api/exports/{jobID}/download", h.DownloadExport)

	return &handlerFixture{
		router:  router,
		queue:   q,
		store:   artifacts,
		content: content,
		worker:  worker,
		unitID:  unitID,
	}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, body *bytes.Buffer) ExportJobResponse {
	t.Helper()
	var resp ExportJobResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestCreateExportAccepted(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost,
		"/api/projects/"+f.unitID.String()+"/exports",
		`{"book_ids":[1],"requested_by":"translator@example.com"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeJob(t, w.Body)
	assert.Equal(t, string(domain.JobStatusQueued), resp.Status)
	assert.Equal(t, f.unitID.String(), resp.ProjectUnitID)
	assert.Equal(t, []int{1}, resp.BookIDs)
	assert.Empty(t, resp.DownloadURL)

	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateExportWithoutBodyExportsAllBooks(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/api/projects/"+f.unitID.String()+"/exports", "")

	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeJob(t, w.Body)
	assert.Empty(t, resp.BookIDs)
}

func TestCreateExportRejectsForeignBookBeforeEnqueue(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost,
		"/api/projects/"+f.unitID.String()+"/exports",
		`{"book_ids":[99]}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Nothing reached the queue.
	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestCreateExportUnknownUnit(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost,
		"/api/projects/"+uuid.NewString()+"/exports", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateExportInvalidUnitID(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/api/projects/not-a-uuid/exports", "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateExportInvalidBookIDs(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost,
		"/api/projects/"+f.unitID.String()+"/exports",
		`{"book_ids":[0]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetExportLifecycle(t *testing.T) {
	f := newHandlerFixture(t)

	created := f.do(t, http.MethodPost, "/api/projects/"+f.unitID.String()+"/exports", "")
	require.Equal(t, http.StatusAccepted, created.Code)
	jobID := decodeJob(t, created.Body).ID

	// Run the worker once so the job settles.
	f.queue.RunCycle(context.Background(), f.worker.HandleBatch, 1)

	w := f.do(t, http.MethodGet, "/api/exports/"+jobID, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJob(t, w.Body)
	assert.Equal(t, string(domain.JobStatusCompleted), resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "/api/exports/"+jobID+"/download", resp.DownloadURL)
	require.NotNil(t, resp.ExpiresAt)
}

func TestGetExportUnknownJob(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/api/exports/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadExport(t *testing.T) {
	f := newHandlerFixture(t)

	created := f.do(t, http.MethodPost, "/api/projects/"+f.unitID.String()+"/exports", "")
	jobID := decodeJob(t, created.Body).ID
	f.queue.RunCycle(context.Background(), f.worker.HandleBatch, 1)

	w := f.do(t, http.MethodGet, "/api/exports/"+jobID+"/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Genesis_Draft_2026_.zip"`,
		w.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "GEN.usfm", zr.File[0].Name)
}

func TestDownloadExportBeforeCompletion(t *testing.T) {
	f := newHandlerFixture(t)

	created := f.do(t, http.MethodPost, "/api/projects/"+f.unitID.String()+"/exports", "")
	jobID := decodeJob(t, created.Body).ID

	w := f.do(t, http.MethodGet, "/api/exports/"+jobID+"/download", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDownloadExportAfterArtifactExpiry(t *testing.T) {
	f := newHandlerFixture(t)

	created := f.do(t, http.MethodPost, "/api/projects/"+f.unitID.String()+"/exports", "")
	jobID := decodeJob(t, created.Body).ID
	f.queue.RunCycle(context.Background(), f.worker.HandleBatch, 1)

	require.NoError(t, f.store.Delete(uuid.MustParse(jobID)))

	w := f.do(t, http.MethodGet, "/api/exports/"+jobID+"/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamArchive(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/api/projects/"+f.unitID.String()+"/archive?book_id=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Contains(t, string(content), "\\v 1 In the beginning\n")
	assert.Contains(t, string(content), "\\v 2 \n")
}

func TestStreamArchiveUnknownUnit(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet, "/api/projects/"+uuid.NewString()+"/archive", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamArchiveInvalidBookID(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodGet,
		"/api/projects/"+f.unitID.String()+"/archive?book_id=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
