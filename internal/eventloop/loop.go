// Package eventloop runs every mutation of a topic-history registry on one
// goroutine, in submission order.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/topichistory"
)

// Loop errors.
var (
	ErrLoopAlreadyRunning = errors.New("event loop already running")
	ErrLoopNotRunning     = errors.New("event loop not running")
	ErrNilRegistry        = errors.New("event loop requires a registry")
)

// DefaultQueueSize is used when Config.QueueSize is not positive.
const DefaultQueueSize = 256

// Op is a unit of work applied to the registry on the loop goroutine.
type Op func(reg *topichistory.Registry)

// Config contains configuration for the loop.
type Config struct {
	// QueueSize is how many ops may wait before Post blocks.
	QueueSize int
}

// Loop serialises access to a Registry. The registry is only ever touched
// from the loop goroutine.
type Loop struct {
	logger zerolog.Logger
	ops    chan Op

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a stopped loop.
func New(cfg Config) *Loop {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Loop{
		logger: logging.Component("event-loop"),
		ops:    make(chan Op, cfg.QueueSize),
	}
}

// Start hands reg to the loop and begins processing ops.
func (l *Loop) Start(ctx context.Context, reg *topichistory.Registry) error {
	if reg == nil {
		return ErrNilRegistry
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrLoopAlreadyRunning
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true

	l.logger.Debug().Int("queue_size", cap(l.ops)).Msg("event loop starting")

	l.wg.Add(1)
	go l.run(l.ctx, reg)
	return nil
}

// Stop halts the loop. Ops still queued are discarded.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrLoopNotRunning
	}
	l.cancel()
	l.running = false
	l.mu.Unlock()

	l.wg.Wait()

	dropped := 0
drain:
	for {
		select {
		case <-l.ops:
			dropped++
		default:
			break drain
		}
	}
	l.logger.Debug().Int("dropped", dropped).Msg("event loop stopped")
	return nil
}

// IsRunning returns true if the loop is running.
func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Post enqueues op without waiting for it to run. It blocks while the queue
// is full.
func (l *Loop) Post(op Op) error {
	if op == nil {
		return nil
	}
	loopCtx, ok := l.loopContext()
	if !ok {
		return ErrLoopNotRunning
	}
	select {
	case l.ops <- op:
		return nil
	case <-loopCtx.Done():
		return ErrLoopNotRunning
	}
}

// Do runs op on the loop and waits for it to finish. It must not be called
// from inside an op.
func (l *Loop) Do(ctx context.Context, op Op) error {
	loopCtx, ok := l.loopContext()
	if !ok {
		return ErrLoopNotRunning
	}

	done := make(chan struct{})
	wrapped := func(reg *topichistory.Registry) {
		defer close(done)
		if op != nil {
			op(reg)
		}
	}

	select {
	case l.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-loopCtx.Done():
		return ErrLoopNotRunning
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-loopCtx.Done():
		// The op may have run just before shutdown.
		select {
		case <-done:
			return nil
		default:
			return ErrLoopNotRunning
		}
	}
}

func (l *Loop) loopContext() (context.Context, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx, l.running
}

func (l *Loop) run(ctx context.Context, reg *topichistory.Registry) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-l.ops:
			l.apply(reg, op)
		}
	}
}

func (l *Loop) apply(reg *topichistory.Registry, op Op) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Err(fmt.Errorf("panic: %v", r)).Msg("event loop op panicked")
		}
	}()
	op(reg)
}
