// Package poller watches a long-running backend task until it reaches a
// terminal status.
//
// A watch issues its first query one interval after Start and chains every
// following query after the previous response, so at most one query is ever
// outstanding for a task. Exactly one of OnComplete or OnError fires per
// watch unless the watch is cancelled first, in which case neither fires.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultInterval is the delay between task status queries.
const DefaultInterval = 2 * time.Second

// Status is the task state reported by the backend.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Report is what a status query returns.
type Report interface {
	State() Status
	Percent() int
	Message() string
}

// Fetcher queries the status of a task.
type Fetcher[T Report] interface {
	TaskStatus(ctx context.Context, taskID string) (T, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc[T Report] func(ctx context.Context, taskID string) (T, error)

func (f FetchFunc[T]) TaskStatus(ctx context.Context, taskID string) (T, error) {
	return f(ctx, taskID)
}

// Handlers receive task updates. They are called from the watch goroutine,
// one at a time and in order. Nil handlers are skipped.
type Handlers[T Report] struct {
	OnProgress func(percent int, report T)
	OnComplete func(report T)
	OnError    func(message string)
}

// Handle controls a running watch.
type Handle struct {
	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start begins watching taskID. The watch ends on a terminal status, a
// failed query, cancellation of ctx, or Cancel.
func Start[T Report](ctx context.Context, f Fetcher[T], taskID string, interval time.Duration, h Handlers[T]) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel, done: make(chan struct{})}
	go run(ctx, handle, f, taskID, interval, h)
	return handle
}

func run[T Report](ctx context.Context, handle *Handle, f Fetcher[T], taskID string, interval time.Duration, h Handlers[T]) {
	defer close(handle.done)
	defer handle.cancel()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !handle.live() {
			return
		}

		report, err := f.TaskStatus(ctx, taskID)
		if ctx.Err() != nil || !handle.live() {
			// Cancelled while the query was in flight; drop the response.
			return
		}
		if err != nil {
			handle.stop()
			if h.OnError != nil {
				h.OnError(err.Error())
			}
			return
		}

		switch report.State() {
		case StatusProcessing:
			if h.OnProgress != nil {
				h.OnProgress(report.Percent(), report)
			}
			timer.Reset(interval)
		case StatusComplete:
			handle.stop()
			if h.OnComplete != nil {
				h.OnComplete(report)
			}
			return
		case StatusError:
			handle.stop()
			if h.OnError != nil {
				h.OnError(report.Message())
			}
			return
		default:
			handle.stop()
			if h.OnError != nil {
				h.OnError(fmt.Sprintf("unexpected task status %q", report.State()))
			}
			return
		}
	}
}

func (h *Handle) live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

func (h *Handle) stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Cancel stops the watch. No query is issued after Cancel returns and any
// response still in flight is discarded. Cancel does not wait for the watch
// goroutine; use Done for that. Safe to call more than once.
func (h *Handle) Cancel() {
	h.stop()
	h.cancel()
}

// Done is closed once the watch goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Active reports whether the watch may still deliver updates.
func (h *Handle) Active() bool {
	select {
	case <-h.done:
		return false
	default:
		return h.live()
	}
}
