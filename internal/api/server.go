package api

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/qavit/smorrery/internal/auth"
	"github.com/qavit/smorrery/internal/health"
	"github.com/qavit/smorrery/internal/metrics"
	"github.com/qavit/smorrery/internal/sbdb"
	"github.com/qavit/smorrery/internal/store"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. texturesDir, when non-empty,
// is served under /textures/ for locally downloaded planet textures.
func NewServer(
	addr string,
	logger *slog.Logger,
	authCfg auth.Config,
	client *sbdb.Client,
	bodies, approaches *store.Store,
	webFS fs.FS,
	texturesDir string,
) (*Server, error) {
	h, err := newHandlers(client, bodies, approaches, logger, webFS)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /orrery", h.orrery)
	mux.HandleFunc("GET /api/sbdb_query", h.smallBodies)
	mux.HandleFunc("GET /api/sbdb_CA_query", h.closeApproaches)
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool {
		_, ok := bodies.Snapshot()
		return ok
	}))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(webFS)))
	if texturesDir != "" {
		mux.Handle("GET /textures/", http.StripPrefix("/textures/", http.FileServer(http.Dir(texturesDir))))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}, nil
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
