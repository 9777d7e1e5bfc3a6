package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/metrics"
	"go.uber.org/atomic"
)

// RouteRegistrar is implemented by the API handlers mounted on the server.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Server struct {
	cfg     *api.HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	handlers   []RouteRegistrar
}

// New builds the API server. metricsSrv may be nil when MetricsAddr is empty.
func New(cfg *api.HTTPServerConfig, metricsSrv *metrics.MetricsServer, handlers ...RouteRegistrar) (srv *Server, err error) {
	if cfg.MetricsAddr != "" && metricsSrv == nil {
		return nil, errors.New("metrics address set without a metrics server")
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		handlers:   handlers,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	for _, h := range srv.handlers {
		h.RegisterRoutes(mux)
	}

	// Health and diagnostic endpoints
	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// Handler returns the router, for tests.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

// IsReady reports whether the server accepts traffic.
func (srv *Server) IsReady() bool {
	return srv.isReady.Load()
}

func writeStatus(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, `{"status":"alive"}`)
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, `{"status":"not ready"}`)
		return
	}
	writeStatus(w, http.StatusOK, `{"status":"ready"}`)
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		writeStatus(w, http.StatusOK, `{"status":"already draining"}`)
		return
	}

	srv.log.Info("Server marked as not ready")

	go func() {
		// Wait for the drain duration to allow load balancers to detect the change
		time.Sleep(srv.cfg.DrainDuration)
		srv.log.Info("Drain period completed")
	}()

	writeStatus(w, http.StatusOK, `{"status":"draining"}`)
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		writeStatus(w, http.StatusOK, `{"status":"already ready"}`)
		return
	}

	srv.log.Info("Server marked as ready")
	writeStatus(w, http.StatusOK, `{"status":"ready"}`)
}

func (srv *Server) RunInBackground() {
	// metrics
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.With("metricsAddress", srv.cfg.MetricsAddr).Info("Starting metrics server")
			err := srv.metricsSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("HTTP server failed", "err", err)
			}
		}()
	}

	// api
	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

func (srv *Server) Shutdown() {
	// api
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	// metrics
	if len(srv.cfg.MetricsAddr) != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()

		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}
