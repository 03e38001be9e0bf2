package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "kavitabot/pkg/logx"
)

// Health is the /healthz body.
type Health struct {
	Status        string `json:"status"`
	Jobs          int    `json:"jobs"`
	LoopDepth     int64  `json:"loop_depth"`
	WorkerQueue   int    `json:"worker_queue"`
	Authenticated bool   `json:"kavita_authenticated"`
	Gateway       bool   `json:"gateway_connected"`
	Uptime        string `json:"uptime"`
}

// HealthFunc reports current state. Status "ok" answers 200, anything
// else 503.
type HealthFunc func() Health

type Server struct {
	log    logx.Logger
	srv    *http.Server
	router chi.Router
}

type ServerOption func(chi.Router)

// WithProfiler mounts net/http/pprof under /debug. Bind the listener to
// localhost when this is on.
func WithProfiler() ServerOption {
	return func(r chi.Router) { r.Mount("/debug", middleware.Profiler()) }
}

func NewServer(addr string, m *Metrics, health HealthFunc, log logx.Logger, opts ...ServerOption) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		h := Health{Status: "ok"}
		if health != nil {
			h = health()
		}
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})
	for _, o := range opts {
		o(r)
	}

	return &Server{
		log:    log,
		router: r,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      20 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler { return s.router }

// Run listens until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("metrics listener started", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			s.log.Warn("metrics shutdown", logx.Err(err))
		}
		<-errCh
		return nil
	}
}
