// Package sequence provides the single-writer execution contexts that own
// router state.
//
// A Loop runs posted tasks one at a time in FIFO order. Every task receives a
// context marked with the loop that runs it, and CurrentlyOn reports whether a
// given context carries that mark. Code that must run on the owning loop
// takes the context as its first argument and, when called from elsewhere,
// posts itself to the loop instead of touching state directly.
//
// Task contexts must not be handed to other goroutines; doing so defeats the
// affinity check.
package sequence

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Run once the loop has been stopped.
var ErrStopped = errors.New("sequence loop stopped")

// Task is a unit of work executed on a Runner.
type Task func(ctx context.Context)

// Runner is an execution context that tasks can be posted to.
type Runner interface {
	// PostTask queues task for execution. It returns false if the runner no
	// longer accepts tasks.
	PostTask(task Task) bool
	// CurrentlyOn reports whether ctx belongs to a task running on this runner.
	CurrentlyOn(ctx context.Context) bool
}

type loopKey struct{}

// Loop is a FIFO task queue drained by a single goroutine at a time.
type Loop struct {
	name string
	ctx  context.Context

	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	stopped bool

	// running serializes Run and RunUntilIdle.
	running sync.Mutex
}

// NewLoop creates a loop. name is only used for diagnostics.
func NewLoop(name string) *Loop {
	l := &Loop{
		name: name,
		wake: make(chan struct{}, 1),
	}
	l.ctx = context.WithValue(context.Background(), loopKey{}, l)
	return l
}

// Name returns the loop's diagnostic name.
func (l *Loop) Name() string { return l.name }

// Context returns the context tasks on this loop receive. Code that drives
// the loop manually (RunUntilIdle) may use it to call owning-context APIs
// directly.
func (l *Loop) Context() context.Context { return l.ctx }

// PostTask implements Runner.
func (l *Loop) PostTask(task Task) bool {
	if task == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// CurrentlyOn implements Runner.
func (l *Loop) CurrentlyOn(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Run executes tasks until ctx is done or Stop is called. Tasks receive the
// loop's own context, not ctx.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Lock()
	defer l.running.Unlock()

	for {
		l.drain()

		l.mu.Lock()
		stopped := l.stopped
		l.mu.Unlock()
		if stopped {
			return ErrStopped
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunUntilIdle executes queued tasks on the calling goroutine, including
// tasks posted while draining, and returns how many ran.
func (l *Loop) RunUntilIdle() int {
	l.running.Lock()
	defer l.running.Unlock()
	return l.drain()
}

func (l *Loop) drain() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		task(l.ctx)
		n++
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop makes the loop reject new tasks. Tasks already queued are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}
