package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/loglens/internal/runtime"
	"github.com/rzbill/loglens/internal/ui"
	logpkg "github.com/rzbill/loglens/pkg/log"
)

// DefaultPollInterval is how often search streams poll for new results.
const DefaultPollInterval = 250 * time.Millisecond

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger

	pollInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithPollInterval overrides the search polling period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logpkg.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(rt *runtime.Runtime, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		rt:           rt,
		srv:          &http.Server{Handler: cors(mux)},
		logger:       rt.Logger(),
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(logpkg.Component("http"))

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/files", s.handleListFiles)
	mux.HandleFunc("POST /v1/files", s.handleOpenFiles)
	mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	mux.HandleFunc("DELETE /v1/files/{id}", s.handleUnloadFile)
	mux.HandleFunc("POST /v1/files/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /v1/files/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /v1/files/{id}/lines", s.handleLines)
	mux.HandleFunc("GET /v1/files/{id}/search", s.handleSearchSSE)
	mux.HandleFunc("GET /v1/events", s.handleEventsSSE)
	mux.Handle("GET /metrics", promhttp.HandlerFor(rt.Registry(), promhttp.HandlerOpts{}))
	mux.Handle("GET /", http.FileServer(ui.FS()))
	return s
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", logpkg.Str("addr", l.Addr().String()))
	// Streaming handlers only return when their request context ends.
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.srv.BaseContext = func(net.Listener) context.Context { return base }
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cancelBase()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps runtime errors to HTTP codes.
func statusFor(err error) int {
	if errors.Is(err, runtime.ErrUnknownFile) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
