// Package server exposes the panel registry and fleet sends over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/internal/groutine"
	"github.com/srg/hopper/pkg/config"
)

// MaxPayloadSize bounds the request body of a send.
const MaxPayloadSize = 1 << 20

// Server is the HTTP front end.
type Server struct {
	cfg    *config.Config
	coord  *fleet.Coordinator
	logs   *ProgressLog
	logger *logrus.Logger
	router chi.Router

	// One radio: sends are serialized across requests.
	sendMu sync.Mutex

	mu      sync.Mutex
	http    *http.Server
	running bool
}

// NewServer creates a server over cfg and coord. logs should be the
// coordinator's observer so /api/logs reflects its sends; nil creates a
// detached log.
func NewServer(cfg *config.Config, coord *fleet.Coordinator, logs *ProgressLog, logger *logrus.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if logs == nil {
		logs = NewProgressLog(DefaultLogCapacity)
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{
		cfg:    cfg,
		coord:  coord,
		logs:   logs,
		logger: logger,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/panels", s.handleListPanels)
		r.Post("/panels/{panel}/toggle", s.handleTogglePanel)
		r.Post("/panels/{panel}/rename", s.handleRenamePanel)

		r.Post("/send", s.handleSendAll)
		r.Post("/send/{panel}", s.handleSendOne)
		r.Post("/identify/{panel}", s.handleIdentify)

		r.Get("/pool", s.handlePoolStatus)
		r.Delete("/pool", s.handlePoolDrain)

		r.Get("/logs", s.handleLogs)
	})

	s.router = r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	srv := s.http
	s.mu.Unlock()

	errc := make(chan error, 1)
	groutine.Go(ctx, "http-server", func(ctx context.Context) {
		errc <- srv.Serve(ln)
	})

	s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

	select {
	case err := <-errc:
		s.setStopped()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.setStopped()
	s.logger.Info("HTTP server stopped")
	return err
}

// IsRunning returns whether the server is currently serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) setStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.http = nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}
