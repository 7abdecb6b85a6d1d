// Package updater implements a cancel-and-replace pipeline for values that
// are expensive to derive from a changing input.
//
// Every accepted Set cancels the context of the previous transform and starts
// a new one. Superseded transforms still report a Change when they settle;
// listeners must check Change.Aborted before trusting the result.
package updater

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Transform derives a result from an input value. It should return promptly
// once ctx is cancelled.
type Transform[V comparable, R any] func(ctx context.Context, v V) (R, error)

// Change reports a settled transform.
type Change[R any] struct {
	Result R
	Err    error
	// Signal is the context the transform ran with.
	Signal context.Context
}

// Aborted reports whether the transform was superseded or the updater closed.
func (c Change[R]) Aborted() bool {
	return c.Signal.Err() != nil
}

type pending[R any] struct {
	done   chan struct{}
	result R
	err    error
}

func settled[R any](r R) *pending[R] {
	p := &pending[R]{done: make(chan struct{}), result: r}
	close(p.done)
	return p
}

// Updater holds the latest input value and its in-flight or settled result.
type Updater[V comparable, R any] struct {
	name      string
	parent    context.Context
	transform Transform[V, R]
	onChange  func(Change[R])
	logger    *zap.Logger

	mu       sync.Mutex
	hasValue bool
	last     V
	cancel   context.CancelFunc
	current  *pending[R]
	wg       sync.WaitGroup
}

// Option configures an Updater.
type Option[V comparable, R any] func(*Updater[V, R])

// WithOnChange registers the listener for settled transforms.
func WithOnChange[V comparable, R any](fn func(Change[R])) Option[V, R] {
	return func(u *Updater[V, R]) { u.onChange = fn }
}

// WithLogger sets the logger and the name used in log entries.
func WithLogger[V comparable, R any](name string, logger *zap.Logger) Option[V, R] {
	return func(u *Updater[V, R]) {
		u.name = name
		u.logger = logger
	}
}

// New creates an updater whose transforms run under parent.
func New[V comparable, R any](parent context.Context, transform Transform[V, R], opts ...Option[V, R]) *Updater[V, R] {
	u := &Updater[V, R]{
		parent:    parent,
		transform: transform,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Set starts a transform for v unless v equals the last accepted value.
// It reports whether a transform was started.
func (u *Updater[V, R]) Set(v V) bool {
	u.mu.Lock()
	if u.hasValue && u.last == v {
		u.mu.Unlock()
		return false
	}
	u.hasValue = true
	u.last = v
	if u.cancel != nil {
		u.cancel()
	}
	ctx, cancel := context.WithCancel(u.parent)
	u.cancel = cancel
	p := &pending[R]{done: make(chan struct{})}
	u.current = p
	u.wg.Add(1)
	u.mu.Unlock()

	go u.run(ctx, v, p)
	return true
}

func (u *Updater[V, R]) run(ctx context.Context, v V, p *pending[R]) {
	defer u.wg.Done()
	p.result, p.err = u.transform(ctx, v)
	close(p.done)

	if p.err != nil && ctx.Err() == nil {
		u.logger.Warn("transform failed", zap.String("updater", u.name), zap.Error(p.err))
	}
	if u.onChange != nil {
		u.onChange(Change[R]{Result: p.result, Err: p.err, Signal: ctx})
	}
}

// SetResult cancels any in-flight transform and installs r as the settled
// result. The last accepted input value is left as is.
func (u *Updater[V, R]) SetResult(r R) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.current = settled(r)
}

// Seed records v as the last accepted input with r as its settled result,
// so a later Set(v) is a no-op. In-flight work is cancelled.
func (u *Updater[V, R]) Seed(v V, r R) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.hasValue = true
	u.last = v
	u.current = settled(r)
}

// WaitForLoad waits for the latest result. If a newer Set or SetResult
// replaces the awaited result meanwhile, it waits for that one instead.
// Without any Set or SetResult it returns the zero value.
func (u *Updater[V, R]) WaitForLoad(ctx context.Context) (R, error) {
	var zero R
	for {
		u.mu.Lock()
		p := u.current
		u.mu.Unlock()
		if p == nil {
			return zero, nil
		}

		select {
		case <-p.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		u.mu.Lock()
		latest := u.current == p
		u.mu.Unlock()
		if latest {
			return p.result, p.err
		}
	}
}

// Close cancels in-flight work and waits for running transforms to return.
func (u *Updater[V, R]) Close() {
	u.mu.Lock()
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}
	u.mu.Unlock()
	u.wg.Wait()
}
