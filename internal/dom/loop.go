package dom

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Loop executes tasks one at a time on the goroutine that calls Run. Anything that
// reads or writes a Document must run as a loop task.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	queue   []func()
	pending int
	idle    chan struct{}
	wake    chan struct{}
}

// NewLoop constructs an idle loop. Panicking tasks are recovered and logged.
func NewLoop(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Loop{
		logger: logger,
		idle:   idle,
		wake:   make(chan struct{}, 1),
	}
}

// Run processes queued tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.exec(task)
			continue
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Post enqueues task. It never blocks, so it is safe to call from a running task.
func (l *Loop) Post(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	l.begin()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs work on its own goroutine and posts the continuation it returns, if any,
// back onto the loop. Work in flight keeps the loop from reporting idle.
func (l *Loop) Go(work func() func()) {
	if work == nil {
		return
	}
	l.mu.Lock()
	l.begin()
	l.mu.Unlock()

	go func() {
		defer l.end()
		if then := work(); then != nil {
			l.Post(then)
		}
	}()
}

// Do posts task and blocks until it has run or ctx is done. A task whose ctx ended
// before the loop reached it is dropped. It must not be called from a loop task.
func (l *Loop) Do(ctx context.Context, task func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		if ctx.Err() != nil {
			return
		}
		task()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no task is queued and no work started with Go is in flight.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin must be called with mu held.
func (l *Loop) begin() {
	if l.pending == 0 {
		l.idle = make(chan struct{})
	}
	l.pending++
}

func (l *Loop) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending--
	if l.pending == 0 {
		close(l.idle)
	}
}

func (l *Loop) exec(task func()) {
	defer l.end()
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("ui task panicked", zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	task()
}
