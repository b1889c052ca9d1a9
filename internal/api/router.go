package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"arena-host/internal/arena"
	"arena-host/internal/host"
)

// Host is the arena registry as seen by the API. *host.Host implements it;
// tests can substitute a smaller fake.
type Host interface {
	Kinds() []string
	List() []*arena.Arena
	Get(id arena.ID) (*arena.Arena, bool)
	Create(kind string) (*arena.Arena, error)
	Join(ctx context.Context, kind string, conn arena.ConnID) (*arena.Arena, arena.JoinResult, error)
	JoinArena(ctx context.Context, id arena.ID, conn arena.ConnID) (*arena.Arena, arena.JoinResult, error)
	Summary() host.Summary
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
type RouterConfig struct {
	// Host is the arena registry (required)
	Host Host

	// RateLimiter is required; NewServer creates one.
	RateLimiter *IPRateLimiter

	// CORSOrigins is the list of allowed CORS origins.
	CORSOrigins []string

	// AdminToken protects arena creation and drain. Empty leaves them open.
	AdminToken string

	// Connections reports open websockets for /api/stats. Optional.
	Connections func() int

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	Log *zap.Logger
}

type routerHandlers struct {
	host        Host
	rateLimiter *IPRateLimiter
	connections func() int
	log         *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
// It starts no goroutines and opens no listeners, so it is safe to use
// with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	r.Use(cfg.RateLimiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	connections := cfg.Connections
	if connections == nil {
		connections = func() int { return 0 }
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &routerHandlers{
		host:        cfg.Host,
		rateLimiter: cfg.RateLimiter,
		connections: connections,
		log:         log,
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.handleGetStats)
		r.Get("/kinds", h.handleGetKinds)

		r.Get("/arenas", h.handleListArenas)
		r.Get("/arenas/{arenaID}", h.handleGetArena)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(cfg.AdminToken))
			r.Post("/arenas", h.handleCreateArena)
			r.Post("/arenas/{arenaID}/drain", h.handleDrainArena)
		})
	})

	return r
}
