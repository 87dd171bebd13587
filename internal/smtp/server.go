// Package smtp implements the inbound SMTP listener, the per-connection
// session loop and the protocol state machine.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultWorkers       = 10
	defaultShutdownGrace = 30 * time.Second
	defaultMaxSize       = 10 * 1024 * 1024
)

// ServerConfig holds the configuration for an SMTP server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":25").
	ListenAddr string

	// Hostname is announced in the greeting and EHLO responses.
	Hostname string

	// Deliverer receives every accepted message.
	Deliverer Deliverer

	// Workers bounds the number of sessions served at once. Connections
	// beyond the limit wait for a free worker.
	Workers int64

	// IdleTimeout bounds each read from a client.
	IdleTimeout time.Duration

	// MaxMessageSize is the largest DATA body accepted, in bytes.
	MaxMessageSize int64

	// ShutdownGrace is how long busy sessions may run after shutdown
	// starts before their connections are closed.
	ShutdownGrace time.Duration
}

// Server accepts SMTP connections and serves each on its own goroutine,
// bounded by a worker semaphore.
type Server struct {
	config  ServerConfig
	machine *Machine
	workers *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}

	// wg tracks connection goroutines, queued or running.
	wg sync.WaitGroup
}

// New creates a new SMTP Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxSize
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}

	return &Server{
		config: cfg,
		machine: &Machine{
			Hostname:       cfg.Hostname,
			MaxMessageSize: cfg.MaxMessageSize,
			Deliverer:      cfg.Deliverer,
		},
		workers:  semaphore.NewWeighted(cfg.Workers),
		sessions: make(map[*Session]struct{}),
	}
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. The accept loop
// never waits on the worker pool. On cancellation the listener is closed,
// idle sessions are told to go away, busy sessions get the grace period
// to finish their current command and are then force-closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	slog.Info("SMTP server listening",
		"addr", ln.Addr().String(),
		"hostname", s.config.Hostname,
		"workers", s.config.Workers,
	)

	// Deliveries run on work so they are not cut off by the shutdown
	// signal itself, only by the forced close after the grace period.
	work, forceClose := context.WithCancel(context.WithoutCancel(ctx))
	defer forceClose()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down SMTP server")
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.shutdown(forceClose)
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.shutdown(forceClose)
				return err
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.serveConn(ctx, work, conn)
	}
}

func (s *Server) serveConn(ctx, work context.Context, conn net.Conn) {
	defer s.wg.Done()

	if err := s.workers.Acquire(ctx, 1); err != nil {
		// Shut down while queued for a worker.
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		fmt.Fprintf(conn, "%d %s Service not available, closing transmission channel\r\n",
			CodeServiceNotAvail, s.config.Hostname)
		conn.Close()
		return
	}
	defer s.workers.Release(1)

	sess := NewSession(conn, s.machine, s.config.IdleTimeout)
	sess.work = work

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	sess.Handle(ctx)
}

func (s *Server) shutdown(forceClose context.CancelFunc) {
	s.mu.Lock()
	for sess := range s.sessions {
		sess.interrupt()
	}
	s.mu.Unlock()

	if s.waitForSessions(s.config.ShutdownGrace) {
		slog.Info("all sessions completed")
		return
	}

	s.mu.Lock()
	remaining := len(s.sessions)
	forceClose()
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	slog.Warn("shutdown grace period expired, closed remaining sessions", "sessions", remaining)

	s.wg.Wait()
}

// waitForSessions waits up to d for all connection goroutines to return.
func (s *Server) waitForSessions(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ActiveSessions returns the number of sessions holding a worker.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
