package wizard

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/poller"
)

// Options configures a controller.
type Options struct {
	// ID identifies the session. A random UUID is used when empty.
	ID string

	// PollInterval is the delay between task status queries.
	PollInterval time.Duration

	// Notifier, when set, receives every notification in addition to the
	// session view.
	Notifier Notifier

	Logger *slog.Logger
}

// call is one outstanding backend request.
type call struct {
	ctx    context.Context
	cancel context.CancelFunc
	epoch  uint64
}

// taskHooks adapt task updates to a flow. They run with the controller
// lock held.
type taskHooks struct {
	stage      Stage
	onProgress func(st backend.TaskStatus)
	onComplete func(st backend.TaskStatus) (result string, err error)
	onError    func(msg string)
}

// base carries the machinery shared by every wizard: the lock, the epoch
// that invalidates superseded work, the busy flag, the task watch, the
// notification list and observer fan-out.
//
// Every action takes mu. Actions that call the backend release it for the
// duration of the request and re-check the epoch afterwards; a mismatch
// means a reset, new file or back navigation happened meanwhile and the
// response is dropped.
type base struct {
	mu sync.Mutex

	id       string
	flow     Flow
	state    State
	busy     bool
	epoch    uint64
	seq      uint64
	closed   bool
	inflight context.CancelFunc

	task      *poller.Handle
	taskID    string
	taskPct   int
	uploadPct int
	lastErr   string

	notes   []Notification
	pending []Notification
	outcome *Outcome
	updated time.Time

	lifetime context.Context
	stop     context.CancelFunc
	fetcher  poller.Fetcher[backend.TaskStatus]
	interval time.Duration
	notifier Notifier
	logger   *slog.Logger
	obs      observers
	render   func() View
}

func (b *base) setup(flow Flow, fetcher poller.Fetcher[backend.TaskStatus], opts Options, render func() View) {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = poller.DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b.id = opts.ID
	b.flow = flow
	b.state = StateIdle
	b.fetcher = fetcher
	b.interval = opts.PollInterval
	b.notifier = opts.Notifier
	b.logger = opts.Logger.With("session_id", opts.ID, "flow", string(flow))
	b.render = render
	b.updated = time.Now()
	b.lifetime, b.stop = context.WithCancel(context.Background())
}

// ID returns the session identifier.
func (b *base) ID() string { return b.id }

// Kind returns the wizard flow.
func (b *base) Kind() Flow { return b.flow }

// Subscribe registers fn for change events and returns a function that
// removes it. fn runs on the goroutine that made the change and must not
// block or call back into the controller's actions.
func (b *base) Subscribe(fn func(Event)) (dispose func()) {
	return b.obs.add(fn)
}

// LastActivity returns when the session last changed.
func (b *base) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updated
}

// Active reports whether a request or task watch is outstanding.
func (b *base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy || b.task != nil
}

// View returns a copy of the current session.
func (b *base) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

// snapshot must be called with mu held.
func (b *base) snapshot() View {
	v := b.render()
	v.ID = b.id
	v.Flow = b.flow
	v.State = b.state
	v.Busy = b.busy
	v.Seq = b.seq
	v.UploadPercent = b.uploadPct
	v.TaskID = b.taskID
	v.TaskPercent = b.taskPct
	v.Error = b.lastErr
	v.Notifications = slices.Clone(b.notes)
	v.UpdatedAt = b.updated
	return v
}

// commit publishes the current view and releases mu. Notifier and
// observers are called after the lock is released.
func (b *base) commit() {
	b.seq++
	b.updated = time.Now()
	ev := Event{View: b.snapshot(), Outcome: b.outcome}
	notes := b.pending
	b.pending = nil
	b.outcome = nil
	b.mu.Unlock()

	if b.notifier != nil {
		for _, n := range notes {
			b.notifier.Notify(n)
		}
	}
	for _, fn := range b.obs.list() {
		fn(ev)
	}
}

// guard checks that an action may run. Must be called with mu held.
func (b *base) guard(action string, allowed ...State) error {
	if b.closed {
		return ErrClosed
	}
	if b.busy {
		return ErrBusy
	}
	if !slices.Contains(allowed, b.state) {
		return wrongState(action, b.state)
	}
	return nil
}

func (b *base) notify(level Level, msg string) {
	n := Notification{Level: level, Message: msg, At: time.Now()}
	b.notes = append(b.notes, n)
	if len(b.notes) > maxNotes {
		b.notes = slices.Delete(b.notes, 0, len(b.notes)-maxNotes)
	}
	b.pending = append(b.pending, n)
}

// reject records a user-input problem and returns it as an *InputError.
func (b *base) reject(msg string, cause error) error {
	b.notify(LevelError, msg)
	return &InputError{Message: msg, Err: cause}
}

// fail records a failed request. The user sees the message carried by
// the backend error.
func (b *base) fail(err error) {
	msg := backend.Message(err)
	b.lastErr = msg
	b.notify(LevelError, msg)
	b.logger.Warn("request failed", "state", string(b.state), "error", err)
}

// invalidate supersedes every outstanding request and task watch.
func (b *base) invalidate() {
	b.epoch++
	b.stopTask()
	if b.inflight != nil {
		b.inflight()
		b.inflight = nil
	}
	b.busy = false
	b.uploadPct = 0
	b.lastErr = ""
}

func (b *base) stopTask() {
	if b.task != nil {
		b.task.Cancel()
		b.task = nil
	}
	b.taskID = ""
	b.taskPct = 0
}

// beginCall marks the controller busy for a request made with ctx.
func (b *base) beginCall(ctx context.Context) call {
	ctx, cancel := context.WithCancel(ctx)
	b.inflight = cancel
	b.busy = true
	b.lastErr = ""
	return call{ctx: ctx, cancel: cancel, epoch: b.epoch}
}

// endCall clears the busy flag and reports whether the call is still
// current. Must be called with mu held.
func (b *base) endCall(c call) bool {
	c.cancel()
	if c.epoch != b.epoch {
		return false
	}
	b.busy = false
	b.inflight = nil
	return true
}

// uploadProgress returns a progress callback bound to the current epoch.
func (b *base) uploadProgress(epoch uint64) backend.ProgressFunc {
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		pct := int(sent * 100 / total)
		if pct > 100 {
			pct = 100
		}

		b.mu.Lock()
		if epoch != b.epoch || pct == b.uploadPct {
			b.mu.Unlock()
			return
		}
		b.uploadPct = pct
		b.commit()
	}
}

// watch starts polling taskID, replacing any previous watch. Must be called
// with mu held.
func (b *base) watch(taskID string, h taskHooks) {
	b.stopTask()
	b.taskID = taskID

	epoch := b.epoch
	var handle *poller.Handle
	current := func() bool {
		return b.epoch == epoch && b.task == handle
	}

	handle = poller.Start(b.lifetime, b.fetcher, taskID, b.interval, poller.Handlers[backend.TaskStatus]{
		OnProgress: func(pct int, st backend.TaskStatus) {
			b.mu.Lock()
			if !current() {
				b.mu.Unlock()
				return
			}
			b.taskPct = pct
			if h.onProgress != nil {
				h.onProgress(st)
			}
			b.commit()
		},
		OnComplete: func(st backend.TaskStatus) {
			b.mu.Lock()
			if !current() {
				b.mu.Unlock()
				return
			}
			b.task = nil
			b.taskPct = st.Progress

			result, err := h.onComplete(st)
			if err != nil {
				b.logger.Warn("task result unusable", "task_id", taskID, "error", err)
				b.finishWithError(h, taskID, "The server sent an unexpected task result.")
				b.commit()
				return
			}
			b.outcome = &Outcome{
				Flow:          b.flow,
				Stage:         h.stage,
				TaskID:        taskID,
				Status:        poller.StatusComplete,
				Result:        result,
				ProcessedRows: st.ProcessedRows,
				Stats:         st.Stats,
			}
			b.logger.Info("task complete", "task_id", taskID, "stage", string(h.stage))
			b.commit()
		},
		OnError: func(msg string) {
			b.mu.Lock()
			if !current() {
				b.mu.Unlock()
				return
			}
			b.task = nil
			b.finishWithError(h, taskID, msg)
			b.commit()
		},
	})
	b.task = handle
}

func (b *base) finishWithError(h taskHooks, taskID, msg string) {
	b.lastErr = msg
	b.notify(LevelError, msg)
	b.outcome = &Outcome{
		Flow:   b.flow,
		Stage:  h.stage,
		TaskID: taskID,
		Status: poller.StatusError,
		Error:  msg,
	}
	b.logger.Warn("task failed", "task_id", taskID, "stage", string(h.stage), "error", msg)
	if h.onError != nil {
		h.onError(msg)
	}
}

// Close supersedes all outstanding work and rejects further actions.
func (b *base) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.invalidate()
	b.closed = true
	b.stop()
}

// observers is the change subscriber list.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (o *observers) add(fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.fns, id)
			o.mu.Unlock()
		})
	}
}

func (o *observers) list() []func(Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = o.fns[id]
	}
	return out
}
