package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// run starts the queue worker, the background tickers, and the HTTP server,
// then blocks until a shutdown signal arrives. Shutdown order matters: stop
// accepting requests first, then drain in-flight export jobs, then release
// connections.
func (app *application) run() error {
	app.coordinator.Start()

	// Queue polling lives under the coordinator's work context so draining
	// stops new claims without killing in-flight batches.
	go func() {
		err := app.queue.Work(app.coordinator.WorkContext(), app.worker.HandleBatch, app.workOptions())
		if err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error("queue worker stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.setupRouter(),
	}

	serverCtx, cancelServer := context.WithCancel(context.Background())
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		app.logger.Info("Starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("Server failed", "error", err)
			cancelServer()
		}
	}()

	select {
	case <-shutdownCh:
		app.logger.Info("Shutting down server...")
	case <-serverCtx.Done():
		app.logger.Info("Server context canceled, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("Server shutdown failed", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.coordinator.Shutdown(shutdownCtx)
	app.cleanup()

	app.logger.Info("Server shutdown completed")
	return nil
}
