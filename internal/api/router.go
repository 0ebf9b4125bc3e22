package api

import (
	"net/http"
	"time"

	"github.com/athebyme/gomarket-sync/internal/adapters/storage"
	"github.com/athebyme/gomarket-sync/internal/api/handlers"
	"github.com/athebyme/gomarket-sync/internal/api/middleware"
	"github.com/athebyme/gomarket-sync/internal/scheduler"
	"github.com/athebyme/gomarket-sync/internal/security"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter настраивает маршрутизатор операторского API
func SetupRouter(
	sched *scheduler.Scheduler,
	runs storage.RunStorageInterface,
	jwtManager *security.JWTManager,
	logger interfaces.LoggerPort,
	metricsEnabled bool,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtManager, logger))

		syncHandler := handlers.NewSyncHandler(sched, runs, logger)

		r.Route("/sync", func(r chi.Router) {
			// Состояние планировщика и история запусков
			r.With(middleware.RequireRole(jwtManager, "operator")).Get("/status", syncHandler.GetStatus)
			r.With(middleware.RequireRole(jwtManager, "operator")).Get("/runs", syncHandler.ListRuns)

			// Внеплановый запуск синхронизации
			r.With(middleware.RequireRole(jwtManager, "operator")).Post("/trigger", syncHandler.TriggerSync)
		})
	})

	return r
}
