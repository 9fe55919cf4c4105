// Package alwaysorigin is an HTTP/1.x origin server for static files that answers
// conditional GET requests from an in-process validation cache, with a bounded
// connection queue in front of a fixed pool of workers.
package alwaysorigin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/always-origin/cache"
	"github.com/always-cache/always-origin/dispatcher"
	"github.com/always-cache/always-origin/journal"
	"github.com/always-cache/always-origin/metrics"
	responsetransformer "github.com/always-cache/always-origin/pkg/response-transformer"
	"github.com/always-cache/always-origin/resource"
)

type Server struct {
	cfg        Config
	root       resource.Root
	cache      *cache.Cache
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	journal    *journal.Journal
	rules      responsetransformer.Rules
	admin      chi.Router

	// runtime settings changed through the admin routes, in nanoseconds
	ttl       atomic.Int64
	missDelay atomic.Int64

	ctx          context.Context
	cancel       context.CancelFunc
	shuttingDown atomic.Bool

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]*connState
	ops       *http.Server
	opsOnce   sync.Once
}

type connState struct {
	idle atomic.Bool
}

// New creates the server and everything it owns: one cache, one dispatcher,
// the metrics registry and the access journal.
func New(cfg Config) (*Server, error) {
	cfg = cfg.normalize()
	root, err := resource.NewRoot(cfg.Root)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	j, err := journal.Open(cfg.JournalPath, journal.WithDropHook(m.JournalDropped))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		root:      root,
		metrics:   m,
		journal:   j,
		rules:     cfg.Rules,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]*connState),
	}
	s.cache = cache.New(cfg.CacheCapacity,
		cache.WithExpiryPolicy(cache.ParseExpiryPolicy(cfg.ExpiryPolicy)),
		cache.WithObserver(m),
	)
	s.dispatcher = dispatcher.New(dispatcher.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Observer:  m,
	}, s)
	s.ttl.Store(int64(cfg.TTL))
	s.missDelay.Store(int64(cfg.MissDelay))
	s.admin = s.adminRouter()

	log.Info().
		Str("root", root.Dir()).
		Int("workers", cfg.Workers).
		Int("queue", cfg.QueueSize).
		Int("capacity", cfg.CacheCapacity).
		Dur("ttl", cfg.TTL).
		Str("expiry", cfg.ExpiryPolicy).
		Msg("Created origin server")
	return s, nil
}

func (s *Server) Cache() *cache.Cache {
	return s.cache
}

func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) Journal() *journal.Journal {
	return s.journal
}

// TTL is the freshness lifetime given to new records.
func (s *Server) TTL() time.Duration {
	return time.Duration(s.ttl.Load())
}

func (s *Server) SetTTL(d time.Duration) time.Duration {
	d = clampDuration(d, 0, MaxTTL)
	s.ttl.Store(int64(d))
	return d
}

// MissDelay is waited before every resource fetch.
func (s *Server) MissDelay() time.Duration {
	return time.Duration(s.missDelay.Load())
}

func (s *Server) SetMissDelay(d time.Duration) time.Duration {
	d = clampDuration(d, 0, MaxMissDelay)
	s.missDelay.Store(int64(d))
	return d
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and hands them to the dispatcher.
// It always returns a non-nil error, ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	if err := s.dispatcher.Start(s.ctx); err != nil {
		return ErrServerClosed
	}
	if err := s.startOps(); err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving")

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warn().Err(err).Dur("retry", tempDelay).Msg("Accept failed")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0
		s.dispatcher.Enqueue(conn)
	}
}

func (s *Server) startOps() error {
	var err error
	s.opsOnce.Do(func() {
		if s.cfg.MetricsAddr == "" {
			return
		}
		var ln net.Listener
		ln, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			err = fmt.Errorf("listening on %s: %w", s.cfg.MetricsAddr, err)
			return
		}
		s.mu.Lock()
		s.ops = &http.Server{Handler: s.metrics.Router(), ReadHeaderTimeout: s.cfg.ReadTimeout}
		ops := s.ops
		s.mu.Unlock()
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
		go func() {
			if err := ops.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Ops listener failed")
			}
		}()
	})
	return err
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shuttingDown.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(conn net.Conn, add bool) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return nil
	}
	st := &connState{}
	s.conns[conn] = st
	return st
}

// Shutdown stops accepting, wakes idle keep-alive connections, waits for the
// workers and closes the ops listener and the journal.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown.Store(true)
	var errs []error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for conn, st := range s.conns {
		if st.idle.Load() {
			conn.SetReadDeadline(time.Now())
		}
	}
	ops := s.ops
	s.mu.Unlock()

	if err := s.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if ops != nil {
		if err := ops.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	log.Info().Msg("Server has shut down")
	return errors.Join(errs...)
}
