// Package server exposes the provider webhooks, the JSON call API and the
// execution event stream over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/compose"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/interact"
	"github.com/teranos/wakeup/pulse/async"
	"github.com/teranos/wakeup/pulse/schedule"
	"github.com/teranos/wakeup/wakeup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// ScriptSource renders the voice script of an outbound call
type ScriptSource interface {
	Script(ctx context.Context, callID string) (compose.VoiceResponse, error)
}

// PoolStats reports worker pool counters
type PoolStats interface {
	Stats() async.Stats
}

// SchedulerStats reports scheduler counters
type SchedulerStats interface {
	Stats() schedule.Stats
}

// Deps are the components the server routes to. Pool and Scheduler are
// optional.
type Deps struct {
	Service   *wakeup.Service
	Calls     *wakeup.Store
	Logs      *wakeup.LogStore
	Scripts   ScriptSource
	Interact  *interact.Handler
	Pool      PoolStats
	Scheduler SchedulerStats
	Hub       *Hub
}

// Server is the HTTP front of the wake-up service
type Server struct {
	deps     Deps
	addr     string
	validate *validator.Validate
	handler  http.Handler
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer builds the router. Listening starts with Start.
func NewServer(addr string, deps Deps, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	s := &Server{
		deps:     deps,
		addr:     addr,
		validate: validator.New(),
		logger:   log.Named("server"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the execution event broadcaster
func (s *Server) Hub() *Hub { return s.deps.Hub }

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrServerStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server stopped", "error", err)
		}
	}(s.srv)

	s.logger.Infow("HTTP server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown closes websocket clients and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	s.deps.Hub.Close()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down HTTP server")
	}
	s.logger.Infow("HTTP server stopped")
	return nil
}
