package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.uber.org/atomic"

	"github.com/tangle-network/frost-blueprint/metrics"
)

type HTTPServerConfig struct {
	ListenAddr string
	// MetricsAddr serves /metrics on a separate listener. When empty the
	// API router serves it.
	MetricsAddr string
	EnablePprof bool
	Log         zerolog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     zerolog.Logger

	srv        *http.Server
	metricsSrv *http.Server
	handler    *Handler
	metrics    *metrics.Metrics
}

func New(cfg *HTTPServerConfig, handler *Handler, m *metrics.Metrics) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}
	srv := &Server{
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "http").Logger(),
		handler: handler,
		metrics: m,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.MetricsAddr != "" {
		mux := chi.NewRouter()
		mux.Handle("/metrics", m.Handler())
		srv.metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return srv, nil
}

// Router returns the API handler.
func (srv *Server) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	mux.Post("/api/jobs/keygen", srv.handler.HandleKeygen)
	mux.Post("/api/jobs/sign", srv.handler.HandleSign)
	mux.Get("/api/jobs/{service}/{call}", srv.handler.HandleResult)
	mux.Get("/api/sessions/{service}/{call}", srv.handler.HandleSession)
	mux.Post("/api/services/{service}/terminate", srv.handler.HandleTerminate)

	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.MetricsAddr == "" {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	if srv.cfg.EnablePprof {
		srv.log.Info().Msg("pprof api enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

// httpLogger attaches the request logger, tags it with a request id and
// writes one access log line per request.
func (srv *Server) httpLogger(next http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("http request")
	})
	return hlog.NewHandler(srv.log)(requestID(access(next)))
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("req_id", id)
		})
		next.ServeHTTP(w, r)
	})
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"status":"` + status + `"}`))
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

// handleDrain marks the server as not ready and holds the request for the
// drain duration so load balancers notice before it returns.
func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info().Dur("drain", srv.cfg.DrainDuration).Msg("server marked as not ready")

	select {
	case <-time.After(srv.cfg.DrainDuration):
	case <-r.Context().Done():
	}
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info().Msg("server marked as ready")
	writeStatus(w, http.StatusOK, "ready")
}

// Run serves the API and metrics listeners until ctx is done or a listener
// fails, then shuts both down.
func (srv *Server) Run(ctx context.Context) error {
	errc := make(chan error, 2)
	serve := func(name string, s *http.Server) {
		srv.log.Info().Str("server", name).Str("addr", s.Addr).Msg("starting server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrapf(err, "%s server", name)
		}
	}
	go serve("api", srv.srv)
	if srv.metricsSrv != nil {
		go serve("metrics", srv.metricsSrv)
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	srv.Shutdown()
	return err
}

func (srv *Server) Shutdown() {
	srv.shutdown("api", srv.srv)
	if srv.metricsSrv != nil {
		srv.shutdown("metrics", srv.metricsSrv)
	}
}

func (srv *Server) shutdown(name string, s *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		srv.log.Error().Err(err).Str("server", name).Msg("graceful shutdown failed")
		return
	}
	srv.log.Info().Str("server", name).Msg("server stopped")
}
