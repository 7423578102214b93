// Package server exposes the audit trigger API over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/cloudaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/models"
	auditmiddleware "github.com/pankaj-dahiya-devops/cloudaudit/internal/server/middleware"
	"github.com/pankaj-dahiya-devops/cloudaudit/internal/store"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	Enable(ctx context.Context, provider models.Provider, accountID string, cfg *models.ScheduleConfig) (*time.Time, error)
}

type WebAPI struct {
	router *chi.Mux
	logger *zerolog.Logger
	server *http.Server

	shutdownTimeout time.Duration
}

type Dependencies struct {
	Trigger   engine.Trigger
	Store     *store.Store
	Scheduler Scheduler

	// Metrics serves /metrics. Nil leaves the route out.
	Metrics http.Handler
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Dependencies    Dependencies
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	router := ConfigureRouter(logger, config.Dependencies)

	timeout := config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebAPI{
		router: router,
		logger: &logger,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: timeout,
	}
}

// ConfigureRouter builds the route table. It is exported for tests that
// serve it through httptest.
func ConfigureRouter(logger zerolog.Logger, deps Dependencies) *chi.Mux {
	h := &handler{
		trigger:   deps.Trigger,
		store:     deps.Store,
		scheduler: deps.Scheduler,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(auditmiddleware.Logger(&logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", h.Health)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/{provider}/accounts/{id}/scans", h.TriggerScan)
		r.Put("/{provider}/accounts/{id}/schedule", h.SetSchedule)
		r.Get("/audits/{id}", h.GetAudit)
		r.Delete("/audits/{id}", h.DeleteAudit)
		r.Get("/audits/{id}/findings", h.ListFindings)
		r.Patch("/findings/{id}", h.UpdateFinding)
	})
	return router
}

// Handler returns the root handler.
func (w *WebAPI) Handler() http.Handler { return w.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")

		// Give outstanding requests a deadline for completion.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.shutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(sctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}
		return err
	}
}
