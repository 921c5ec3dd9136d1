// Package server exposes the scanner coordinator and product catalog over a
// REST control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hexlattice/scanhub/internal/config"
	"github.com/hexlattice/scanhub/internal/metrics"
	"github.com/hexlattice/scanhub/internal/product"
	"github.com/hexlattice/scanhub/internal/scanner"
)

// Server wires the HTTP routes to the coordinator and product store.
type Server struct {
	cfg    config.ServerConfig
	coord  *scanner.Coordinator
	router *mux.Router
	logger *zap.Logger
}

// New builds the router. metrics may be nil, which disables the registry
// scoping but keeps /metrics serving.
func New(cfg config.ServerConfig, coord *scanner.Coordinator, productHandler *product.Handler, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		coord:  coord,
		router: mux.NewRouter(),
		logger: logger.Named("server"),
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/cameras", s.handleCameras).Methods(http.MethodGet)
	api.HandleFunc("/scanner/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/scanner/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/scanner/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/scanner/retry", s.handleRetry).Methods(http.MethodPost)
	api.HandleFunc("/scanner/switch", s.handleSwitch).Methods(http.MethodPost)
	api.HandleFunc("/scanner/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/scanner/events", s.handleEvents).Methods(http.MethodGet)
	productHandler.Register(api)

	s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		sendSuccess(w, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then shuts down gracefully
// within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		ErrorLog:     zap.NewStdLog(s.logger.Named("http")),
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server.", zap.String("address", s.cfg.Addr))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		s.logger.Info("Shutdown signal received, stopping HTTP server.")

		grace := s.cfg.ShutdownGrace
		if grace <= 0 {
			grace = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped gracefully.")
	return nil
}
