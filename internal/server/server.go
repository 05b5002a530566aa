package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lazypower/curator/internal/engine"
)

// Server is the curator HTTP API server.
type Server struct {
	engine       *engine.Engine
	router       chi.Router
	version      string
	retrieveTopK int
	started      time.Time
}

// New creates a new Server over the given engine. retrieveTopK is the page
// size used when a retrieval request does not say how many bullets it wants;
// zero or less means 10.
func New(eng *engine.Engine, version string, retrieveTopK int) *Server {
	if retrieveTopK <= 0 {
		retrieveTopK = 10
	}
	s := &Server{
		engine:       eng,
		version:      version,
		retrieveTopK: retrieveTopK,
		started:      time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/merge", s.handleMerge)
		r.Get("/retrieve", s.handleRetrieve)
		r.Post("/archive", s.handleArchive)
		r.Get("/stats", s.handleStats)
		r.Get("/bullets", s.handleBullets)
		r.Get("/context", s.handleContext)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  s.version,
		"uptime":   time.Since(s.started).Seconds(),
		"db":       dbOK,
		"db_path":  s.engine.DB.Path,
		"active":   len(s.engine.Curator.Active()),
		"archived": len(s.engine.Curator.Archived()),
	})
}
