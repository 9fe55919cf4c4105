// Package dispatcher feeds accepted connections through a bounded queue to a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrClosed      = errors.New("dispatcher closed")
	ErrJoinTimeout = errors.New("workers did not stop in time")
)

const (
	DefaultWorkers       = 4
	DefaultQueueSize     = 256
	DefaultRejectTimeout = time.Second
	DefaultDrainTimeout  = 200 * time.Millisecond
	DefaultJoinTimeout   = time.Second
	DefaultMaxRejecters  = 64

	inlineRejectTimeout = 50 * time.Millisecond
)

// ConnHandler runs the whole request/response cycle of one connection and closes it.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// Observer receives queue and pool gauges.
type Observer interface {
	QueueDepth(n int)
	BusyWorkers(n int)
	Rejected()
}

type nopObserver struct{}

func (nopObserver) QueueDepth(int)  {}
func (nopObserver) BusyWorkers(int) {}
func (nopObserver) Rejected()       {}

type Config struct {
	Workers   int
	QueueSize int
	// RejectTimeout is the write deadline for the overload response.
	RejectTimeout time.Duration
	// DrainTimeout bounds how long inbound data is discarded after a rejection.
	DrainTimeout time.Duration
	// JoinTimeout bounds how long Shutdown waits for busy workers.
	JoinTimeout time.Duration
	// MaxRejecters bounds concurrent asynchronous rejections.
	MaxRejecters int
	// Rejecter writes the overload response, ServiceUnavailable if nil.
	Rejecter func(io.Writer) error
	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize < 1 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RejectTimeout <= 0 {
		c.RejectTimeout = DefaultRejectTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.MaxRejecters < 1 {
		c.MaxRejecters = DefaultMaxRejecters
	}
	if c.Rejecter == nil {
		c.Rejecter = ServiceUnavailable
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// Stats is a point in time view of the dispatcher.
type Stats struct {
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queue_size"`
	Queued    int    `json:"queued"`
	Busy      int    `json:"busy"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
}

type Dispatcher struct {
	cfg     Config
	handler ConnHandler

	queue      chan net.Conn
	done       chan struct{}
	rejecters  chan struct{}
	workers    sync.WaitGroup
	rejections sync.WaitGroup

	// mu orders Enqueue against Shutdown so nothing is queued after the final drain
	mu       sync.RWMutex
	started  bool
	closed   bool
	stopOnce sync.Once
	stopErr  error

	ctx    context.Context
	cancel context.CancelFunc

	busy     atomic.Int64
	accepted atomic.Uint64
	rejected atomic.Uint64
}

func New(cfg Config, handler ConnHandler) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		handler:   handler,
		queue:     make(chan net.Conn, cfg.QueueSize),
		done:      make(chan struct{}),
		rejecters: make(chan struct{}, cfg.MaxRejecters),
	}
}

// Start launches the workers. Their context is derived from ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.started {
		return nil
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.work(i + 1)
	}
	log.Info().Int("workers", d.cfg.Workers).Int("queue", d.cfg.QueueSize).Msg("Started worker pool")
	return nil
}

// Enqueue hands conn to the pool without blocking.
// When the queue is full, or the dispatcher is closed, conn is answered with 503 and
// closed in the background and false is returned.
func (d *Dispatcher) Enqueue(conn net.Conn) bool {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.reject(conn)
		return false
	}
	select {
	case d.queue <- conn:
		d.mu.RUnlock()
		d.accepted.Add(1)
		d.cfg.Observer.QueueDepth(len(d.queue))
		log.Trace().Str("remote", remoteAddr(conn)).Int("queued", len(d.queue)).Msg("Enqueued connection")
		return true
	default:
		d.mu.RUnlock()
		d.reject(conn)
		log.Warn().Str("remote", remoteAddr(conn)).Msg("Connection queue full, responded 503")
		return false
	}
}

func (d *Dispatcher) reject(conn net.Conn) {
	d.rejected.Add(1)
	d.cfg.Observer.Rejected()
	select {
	case d.rejecters <- struct{}{}:
		d.rejections.Add(1)
		go func() {
			defer func() {
				<-d.rejecters
				d.rejections.Done()
			}()
			d.rejectConn(conn, d.cfg.RejectTimeout, true)
		}()
	default:
		d.rejectConn(conn, inlineRejectTimeout, false)
	}
}

func (d *Dispatcher) rejectConn(conn net.Conn, timeout time.Duration, drain bool) {
	conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := d.cfg.Rejecter(conn); err != nil {
		log.Debug().Err(err).Str("remote", remoteAddr(conn)).Msg("Could not send 503")
	}
	if drain {
		CloseGracefully(conn, d.cfg.DrainTimeout)
		return
	}
	conn.Close()
}

func (d *Dispatcher) work(id int) {
	defer d.workers.Done()
	log.Trace().Int("worker", id).Msg("Worker started")
	for {
		// a stop signal wins over queued work
		select {
		case <-d.done:
			log.Trace().Int("worker", id).Msg("Worker stopped")
			return
		default:
		}
		select {
		case <-d.done:
			log.Trace().Int("worker", id).Msg("Worker stopped")
			return
		case conn := <-d.queue:
			d.cfg.Observer.QueueDepth(len(d.queue))
			d.cfg.Observer.BusyWorkers(int(d.busy.Add(1)))
			d.serve(id, conn)
			d.cfg.Observer.BusyWorkers(int(d.busy.Add(-1)))
		}
	}
}

func (d *Dispatcher) serve(id int, conn net.Conn) {
	defer func() {
		if err := recover(); err != nil {
			log.Error().Int("worker", id).Str("remote", remoteAddr(conn)).Msgf("Connection handler panicked: %v", err)
			conn.Close()
		}
	}()
	d.handler.ServeConn(d.ctx, conn)
}

// Shutdown stops the workers from taking new connections and waits for busy ones,
// up to JoinTimeout or until ctx is done. Connections still queued are answered
// with 503 and closed. Cycles in flight are not interrupted unless the wait times out,
// in which case their context is canceled. Calling Shutdown again returns the first result.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)

		joined := make(chan struct{})
		go func() {
			d.workers.Wait()
			close(joined)
		}()
		timer := time.NewTimer(d.cfg.JoinTimeout)
		defer timer.Stop()
		select {
		case <-joined:
		case <-timer.C:
			d.stopErr = ErrJoinTimeout
		case <-ctx.Done():
			d.stopErr = fmt.Errorf("%w: %w", ErrJoinTimeout, ctx.Err())
		}
		if d.stopErr != nil && d.cancel != nil {
			d.cancel()
		}

		n := 0
	drain:
		for {
			select {
			case conn := <-d.queue:
				d.rejected.Add(1)
				d.cfg.Observer.Rejected()
				d.rejectConn(conn, inlineRejectTimeout, false)
				n++
			default:
				break drain
			}
		}
		if n > 0 {
			log.Debug().Int("count", n).Msg("Closed queued connections")
		}
		d.cfg.Observer.QueueDepth(0)

		rejected := make(chan struct{})
		go func() {
			d.rejections.Wait()
			close(rejected)
		}()
		select {
		case <-rejected:
		case <-ctx.Done():
		}
		if d.stopErr == nil && d.cancel != nil {
			d.cancel()
		}
		log.Info().Msg("Worker pool stopped")
	})
	return d.stopErr
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:   d.cfg.Workers,
		QueueSize: d.cfg.QueueSize,
		Queued:    len(d.queue),
		Busy:      int(d.busy.Load()),
		Accepted:  d.accepted.Load(),
		Rejected:  d.rejected.Load(),
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
