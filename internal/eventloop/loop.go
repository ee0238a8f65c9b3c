package eventloop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 64

// Loop executes posted callbacks sequentially on one goroutine.
type Loop struct {
	queue  *Queue[func()]
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	done      chan struct{}

	executed atomic.Int64
	panics   atomic.Int64
}

// Stats contains loop statistics.
type Stats struct {
	Queued    int
	Executed  int64
	Discarded int64
	Panics    int64
}

// New creates a loop. Call Start before posting work that must run.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  NewQueue[func()](defaultQueueSize),
		logger: logger.With("component", "eventloop"),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. Subsequent calls do nothing.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
	})
}

// Post queues fn for execution. Returns false if the loop has been stopped,
// in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	if fn == nil || l.stopped.Load() {
		return false
	}
	return l.queue.Push(fn)
}

// Stop rejects further posts, discards queued callbacks and waits for the
// callback in progress, if any, to finish.
func (l *Loop) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		l.queue.Close()
		if n := l.queue.Discard(); n > 0 {
			l.logger.Debug("discarded pending callbacks", "count", n)
		}
		// A loop that never started has nothing to wait for.
		l.startOnce.Do(func() { close(l.done) })
	})

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// Stats returns loop statistics.
func (l *Loop) Stats() Stats {
	qs := l.queue.Stats()
	return Stats{
		Queued:    qs.Count,
		Executed:  l.executed.Load(),
		Discarded: qs.Discarded,
		Panics:    l.panics.Load(),
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		fn, ok := l.queue.Pop()
		if !ok {
			return
		}
		if l.stopped.Load() {
			continue
		}
		l.execute(fn)
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.logger.Error("callback panic recovered",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
	l.executed.Add(1)
}
