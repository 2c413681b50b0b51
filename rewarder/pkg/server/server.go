package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultSettlementsLimit = 50
	maxSettlementsLimit     = 500
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s, nil
}

func (s *Server) routes() {
	limiter := NewRateLimiter(s.cfg.Clock, s.cfg.RateLimit, s.cfg.RateBurst)

	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(metricsMiddleware)

	s.router.Get("/healthz", s.healthzHandler)
	s.router.Get("/readyz", s.readyzHandler)
	s.router.Get("/version", s.versionHandler)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Get("/all-depositors", s.allDepositorsHandler)
		r.Get("/cursor", s.cursorHandler)
		if s.cfg.Journal != nil {
			r.Get("/settlements", s.settlementsHandler)
			r.Get("/settlements/{id}/payouts", s.payoutsHandler)
		}
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", ln.Addr().String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Status.Ready() {
		s.log.Debug("readyz: rewarder not ready")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("rewarder not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

// DepositorValues is one depositor's outstanding lots as parallel arrays.
type DepositorValues struct {
	Amounts     []string `json:"amounts"`
	BlockNumber []uint64 `json:"blockNumber"`
}

// DepositorsResponse lists depositors and, at the same index, their lots.
type DepositorsResponse struct {
	Depositors []string          `json:"depositors"`
	Values     []DepositorValues `json:"values"`
}

func (s *Server) allDepositorsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Status.Depositors()
	resp := DepositorsResponse{
		Depositors: make([]string, 0, len(snap)),
		Values:     make([]DepositorValues, 0, len(snap)),
	}
	for _, status := range snap.Status() {
		v := DepositorValues{
			Amounts:     make([]string, 0, len(status.Lots)),
			BlockNumber: make([]uint64, 0, len(status.Lots)),
		}
		for _, lot := range status.Lots {
			v.Amounts = append(v.Amounts, lot.Amount)
			v.BlockNumber = append(v.BlockNumber, lot.Block)
		}
		resp.Depositors = append(resp.Depositors, status.Depositor)
		resp.Values = append(resp.Values, v)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cursorHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Status.Cursor())
}

func (s *Server) settlementsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultSettlementsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSettlementsLimit)
	}

	passes, err := s.cfg.Journal.RecentPasses(r.Context(), limit)
	if err != nil {
		s.log.Error("server: failed to list settlement passes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list settlement passes")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"passes": passes})
}

func (s *Server) payoutsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid pass id")
		return
	}

	payouts, err := s.cfg.Journal.Payouts(r.Context(), id)
	if err != nil {
		s.log.Error("server: failed to list payouts", "pass", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pass": id, "payouts": payouts})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
