package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calebwren/versio-api/internal/api"
	apiMiddleware "github.com/calebwren/versio-api/internal/api/middleware"
	"github.com/calebwren/versio-api/internal/api/shared"
	"github.com/calebwren/versio-api/internal/lifecycle"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	exportHandler := api.NewExportHandler(app.queue, app.artifacts, app.assembler, app.content)

	r.Route("/api", func(r chi.Router) {
		r.Post("/projects/{projectUnitID}/exports", exportHandler.CreateExport)
		r.Get("/projects/{projectUnitID}/archive", exportHandler.StreamArchive)
		r.Get("/exports/{jobID}", exportHandler.GetExport)
		r.Get("/exports/{jobID}/download", exportHandler.DownloadExport)
	})

	// Health reports the lifecycle state so load balancers stop routing to a
	// draining instance.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		state := app.coordinator.State()
		status := http.StatusOK
		if state != lifecycle.StateRunning {
			status = http.StatusServiceUnavailable
		}
		shared.RespondWithJSON(w, r, status, map[string]string{
			"status": state.String(),
		})
	})

	return r
}
