// Package queue serializes the operations issued against one conversation.
//
// Operations run one at a time in the order they were submitted. Each
// submission gets its own Turn handle that settles with that operation's
// outcome; a failing or panicking operation never blocks the ones behind it.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Operation is one unit of queued work.
type Operation func(ctx context.Context) error

// Turn is the handle of a submitted operation.
type Turn struct {
	done chan struct{}
	err  error
}

func newTurn() *Turn {
	return &Turn{done: make(chan struct{})}
}

// Failed returns an already settled turn carrying err.
func Failed(err error) *Turn {
	t := newTurn()
	t.settle(err)
	return t
}

func (t *Turn) settle(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the operation has finished.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Err returns the operation's error. It is only meaningful after Done is closed.
func (t *Turn) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx is done. Abandoning the
// wait does not cancel the operation.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	ctx  context.Context
	op   Operation
	turn *Turn
}

// Queue runs submitted operations strictly one after another.
type Queue struct {
	mu      sync.Mutex
	pending []job
	running bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Submit enqueues op and returns immediately. Submission order is execution order.
func (q *Queue) Submit(ctx context.Context, op Operation) *Turn {
	t := newTurn()
	q.mu.Lock()
	q.pending = append(q.pending, job{ctx: ctx, op: op, turn: t})
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return t
}

// Run submits op and waits for its outcome.
func (q *Queue) Run(ctx context.Context, op Operation) error {
	return q.Submit(ctx, op).Wait(ctx)
}

// Len returns the number of operations waiting, excluding the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		j.turn.settle(execute(j))
	}
}

func execute(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued operation panicked: %v", r)
		}
	}()
	return j.op(j.ctx)
}
