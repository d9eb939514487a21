package chatsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval  = 3 * time.Second
	DefaultInboxInterval = 5 * time.Second
)

// Poller runs fetch on a fixed interval and hands each successful result to
// deliver. Failures are logged and retried on the next tick; there is no
// backoff and no cap on consecutive failures.
//
// A tick is skipped while the previous fetch is still unresolved. Results that
// resolve after Stop are dropped; callers that need a hard guarantee against
// late delivery tag results themselves (Session does, by generation).
type Poller[T any] struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	deliver  func(T)
	onError  func(error)
	log      *zap.Logger

	mu       sync.Mutex
	running  bool
	inFlight bool
	cancel   context.CancelFunc
}

// NewPoller creates a stopped poller.
func NewPoller[T any](name string, interval time.Duration, fetch func(context.Context) (T, error), deliver func(T), log *zap.Logger) *Poller[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		deliver:  deliver,
		log:      log.With(zap.String("poller", name)),
	}
}

// OnError registers a callback for failed ticks. Call before Start.
func (p *Poller[T]) OnError(fn func(error)) {
	p.onError = fn
}

// Start begins ticking. It is a no-op if the poller is already running.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	go p.loop(runCtx)
	p.log.Debug("poller started", zap.Duration("interval", p.interval))
}

// Stop cancels the pending timer and any in-flight fetch. It does not wait
// for the loop goroutine to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	p.cancel = nil
	p.log.Debug("poller stopped")
}

// Running reports whether the poller is ticking.
func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PollNow runs one tick immediately on the calling goroutine.
// It returns ErrPollInFlight if a tick is already in progress.
func (p *Poller[T]) PollNow(ctx context.Context) error {
	return p.tick(ctx)
}

func (p *Poller[T]) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.tick(ctx)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		RecordPoll(p.name, "skipped", 0)
		return ErrPollInFlight
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	start := time.Now()
	result, err := p.fetch(ctx)
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil {
		// Cancelled while the request was in flight; drop silently.
		return ctx.Err()
	}
	if err != nil {
		RecordPoll(p.name, "error", elapsed)
		p.log.Warn("poll failed", zap.Error(err))
		if p.onError != nil {
			p.onError(err)
		}
		return err
	}
	RecordPoll(p.name, "ok", elapsed)
	p.deliver(result)
	return nil
}
