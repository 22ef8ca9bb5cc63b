package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shiguredo/media-processors/pkg/model"
)

// ErrLoopStopped is returned by Do once the loop has shut down.
var ErrLoopStopped = errors.New("engine loop stopped")

// Loop owns an Engine and runs every call to it on one goroutine. Host
// completions arriving from timers or the network are posted to the loop.
type Loop struct {
	engine *Engine
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func(*Engine)
	notify chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a loop for e. Start must be called to process requests.
func NewLoop(e *Engine, logger *slog.Logger) *Loop {
	return &Loop{
		engine: e,
		logger: logger.With("component", "engine-loop"),
		notify: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start processes requests until ctx is cancelled or Stop is called. On exit
// every session is stopped.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("engine loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("engine loop stopping (context cancelled)")
			l.shutdown()
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("engine loop stopping (stop called)")
			l.shutdown()
			return nil
		case <-l.notify:
			l.drain()
		}
	}
}

func (l *Loop) shutdown() {
	l.drain()
	l.engine.Close()
	close(l.doneCh)
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		queue := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(queue) == 0 {
			return
		}
		for _, fn := range queue {
			fn(l.engine)
		}
	}
}

// Stop shuts the loop down and waits for it to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Done is closed once the loop has shut down.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

// Post queues fn to run on the loop goroutine. It never blocks, so it may be
// called from the loop goroutine itself.
func (l *Loop) Post(fn func(*Engine)) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(*Engine) error) error {
	select {
	case <-l.doneCh:
		return ErrLoopStopped
	default:
	}
	res := make(chan error, 1)
	l.Post(func(e *Engine) { res <- fn(e) })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		// The request may have run during shutdown.
		select {
		case err := <-res:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

// Awake posts a sleep completion.
func (l *Loop) Awake(token model.Token) {
	l.Post(func(e *Engine) {
		if !e.Awake(token) {
			l.logger.Debug("late sleep completion ignored", "token", token)
		}
	})
}

// DecoderCreated posts a decoder creation completion.
func (l *Loop) DecoderCreated(token model.Token, id model.DecoderID) {
	l.Post(func(e *Engine) {
		if !e.DecoderCreated(token, id) {
			l.logger.Debug("late decoder completion ignored", "token", token, "decoder_id", id)
		}
	})
}

// Abandon posts a completion that will never arrive. The session parked on
// token stalls.
func (l *Loop) Abandon(token model.Token) {
	l.Post(func(e *Engine) {
		e.Abandon(token)
	})
}
