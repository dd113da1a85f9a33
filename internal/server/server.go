// Package server exposes producers and caught errors over HTTP: Prometheus
// metrics, a health check and a small JSON API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stats-agent/pkg/config"
	"github.com/stats-agent/pkg/errorcatcher"
	"github.com/stats-agent/pkg/logger"
	"github.com/stats-agent/pkg/producers"
)

const httpShutdownTimeout = 5 * time.Second

// Deps are the components served over HTTP.
type Deps struct {
	Gatherer  prometheus.Gatherer
	Producers *producers.Registry
	Errors    *errorcatcher.Recorder
}

// HTTPServer serves /metrics, /health and /api.
type HTTPServer struct {
	addr     string
	server   *http.Server
	deps     Deps
	logger   *zap.Logger
	listener net.Listener
}

// statusWriter captures the response status for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// NewHTTPServer builds the server; nothing listens before Start.
func NewHTTPServer(cfg config.ServerConfig, deps Deps, l *zap.Logger) *HTTPServer {
	if l == nil {
		l = logger.Named("server")
	}
	s := &HTTPServer{addr: cfg.Addr, deps: deps, logger: l}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(l),
	}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/producers", s.listProducers)
	mux.HandleFunc("GET /api/producers/{id}", s.getProducer)
	mux.HandleFunc("GET /api/errors", s.listErrors)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.logRequests(s.recoverPanics(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler with its middleware.
func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

// Start binds the address and serves in the background.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Duration("read_timeout", s.server.ReadTimeout),
		zap.Duration("write_timeout", s.server.WriteTimeout),
		zap.Duration("idle_timeout", s.server.IdleTimeout))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
			return
		}
		s.logger.Info("HTTP server stopped listening", zap.String("listen_addr", s.addr))
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown waits up to five seconds for in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("HTTP server shutdown timed out", zap.String("listen_addr", s.addr))
			return nil
		}
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	s.logger.Info("HTTP server shutdown successfully", zap.String("listen_addr", s.addr))
	return nil
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		log := s.logger.Info
		if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
			log = s.logger.Debug
		}
		log("request served",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// recoverPanics turns a handler panic into a 500 and records it as a caught error.
func (s *HTTPServer) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			err = pkgerrors.WithStack(err)
			s.logger.Error("handler panicked", zap.String("path", r.URL.Path), zap.Error(err))
			if s.deps.Errors != nil {
				tags := map[string]string{"method": r.Method, "path": r.URL.Path}
				if addErr := s.deps.Errors.Add(r.Context(), err, tags); addErr != nil {
					s.logger.Error("cannot record handler panic", zap.Error(addErr))
				}
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
