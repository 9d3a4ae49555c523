package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apihandler "github.com/substackintel/pipeline/internal/api/handler"
	apimw "github.com/substackintel/pipeline/internal/api/middleware"
	"github.com/substackintel/pipeline/internal/store"
)

// RouterDeps holds optional dependencies for the router.
type RouterDeps struct {
	Producer    apihandler.Enqueuer
	Events      apihandler.EventTail
	FreshWindow time.Duration
	Heartbeat   time.Duration
}

func NewRouter(logger *slog.Logger, s *store.Store, deps *RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.Logger(logger))
	r.Use(apimw.CORS)
	r.Use(chimw.Recoverer)

	// Health checks
	health := apihandler.NewHealthHandler(s.Pool())
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	if deps == nil {
		deps = &RouterDeps{}
	}

	sync := apihandler.NewSyncHandler(logger, s, deps.Producer, deps.FreshWindow)
	stream := apihandler.NewStreamHandler(logger, deps.Events, deps.Heartbeat)

	r.Route("/api/pipeline", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/", sync.Trigger)
			r.Get("/", sync.Status)
			r.Get("/stream", stream.Stream)
		})
		r.Get("/runs", sync.ListRuns)
		r.Get("/runs/{runID}", sync.GetRun)
	})

	return r
}
