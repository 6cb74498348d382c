package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/space-weather-forecast/internal/ensemble"
	"github.com/couchcryptid/space-weather-forecast/internal/tracker"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TrustAdmin exposes the trust registry and per-source accuracy.
type TrustAdmin interface {
	Trust() *ensemble.Snapshot
	Stats() []tracker.SourceStats
	Reset(ctx context.Context, source string) (*ensemble.Snapshot, error)
}

// Server exposes health, readiness, metrics and trust HTTP endpoints.
type Server struct {
	httpServer *http.Server
	trust      TrustAdmin
	logger     *slog.Logger
}

// TrustReport is the body of GET /trust.
type TrustReport struct {
	Trust *ensemble.Snapshot    `json:"trust"`
	Stats []tracker.SourceStats `json:"stats"`
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics routes.
// Trust routes are registered when trust is non-nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, trust TrustAdmin, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		trust:  trust,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if trust != nil {
		mux.HandleFunc("GET /trust", s.handleTrust)
		mux.HandleFunc("POST /trust/{source}/reset", s.handleReset)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleTrust(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, TrustReport{Trust: s.trust.Trust(), Stats: s.trust.Stats()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	snap, err := s.trust.Reset(r.Context(), source)
	if err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("trust reset via api", "source", source, "trust_version", snap.Version)
	sharedobs.WriteJSON(w, http.StatusOK, snap)
}
