package wizard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/poller"
)

// fakeBackend scripts backend responses. When gate is set every request
// method blocks until the gate closes or the request context ends.
type fakeBackend struct {
	mu sync.Mutex

	columns     *backend.Columns
	discoverErr error
	preview     *backend.Preview
	previewErr  error
	startID     string
	startErr    error

	multiID   string
	multiErr  error
	exportID  string
	exportErr error

	dedupCols    *backend.DedupColumns
	dedupPreview *backend.DedupPreview
	dedupID      string

	tasks       map[string][]backend.TaskStatus
	statusCalls map[string]int

	gate chan struct{}

	previewReqs []backend.TransformRequest
	startReqs   []backend.TransformRequest
	exportReqs  []backend.ExportRequest
	dedupReqs   []backend.DedupRequest
}

func newFake() *fakeBackend {
	return &fakeBackend{
		tasks:       make(map[string][]backend.TaskStatus),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return &backend.APIError{Op: "fake", Message: "cancelled", Err: ctx.Err()}
	}
}

func (f *fakeBackend) setGate(g chan struct{}) {
	f.mu.Lock()
	f.gate = g
	f.mu.Unlock()
}

func (f *fakeBackend) script(taskID string, steps ...backend.TaskStatus) {
	f.mu.Lock()
	f.tasks[taskID] = steps
	f.mu.Unlock()
}

func (f *fakeBackend) calls(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[taskID]
}

func (f *fakeBackend) TaskStatus(ctx context.Context, taskID string) (backend.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	steps := f.tasks[taskID]
	i := f.statusCalls[taskID]
	f.statusCalls[taskID]++
	if len(steps) == 0 {
		return backend.TaskStatus{}, &backend.APIError{Op: "task status", Status: 404, Message: "Task not found"}
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	return steps[i], nil
}

func (f *fakeBackend) DiscoverFields(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.Columns, error) {
	if progress != nil {
		progress(50, 100)
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.columns, f.discoverErr
}

func (f *fakeBackend) Preview(ctx context.Context, req backend.TransformRequest) (*backend.Preview, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewReqs = append(f.previewReqs, req)
	if f.previewErr != nil {
		return nil, f.previewErr
	}
	if f.preview != nil {
		return f.preview, nil
	}
	return &backend.Preview{Columns: req.Columns, Rows: []map[string]any{{"email": "a@b.c"}}}, nil
}

func (f *fakeBackend) StartTransform(ctx context.Context, req backend.TransformRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startReqs = append(f.startReqs, req)
	return f.startID, f.startErr
}

func (f *fakeBackend) MultiExportInitial(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (string, error) {
	if progress != nil {
		progress(up.Size, up.Size)
	}
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.multiID, f.multiErr
}

func (f *fakeBackend) MultiExportStart(ctx context.Context, req backend.ExportRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportReqs = append(f.exportReqs, req)
	return f.exportID, f.exportErr
}

func (f *fakeBackend) DedupDiscover(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.DedupColumns, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dedupCols, nil
}

func (f *fakeBackend) DedupPreview(ctx context.Context, req backend.DedupRequest) (*backend.DedupPreview, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedupReqs = append(f.dedupReqs, req)
	return f.dedupPreview, nil
}

func (f *fakeBackend) DedupStart(ctx context.Context, req backend.DedupRequest) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedupReqs = append(f.dedupReqs, req)
	return f.dedupID, nil
}

const testInterval = 2 * time.Millisecond

func testOptions() Options {
	return Options{
		PollInterval: testInterval,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func processing(pct int) backend.TaskStatus {
	return backend.TaskStatus{Status: poller.StatusProcessing, Progress: pct}
}

func complete(result any) backend.TaskStatus {
	raw, _ := json.Marshal(result)
	return backend.TaskStatus{Status: poller.StatusComplete, Progress: 100, Result: raw}
}

func failed(msg string) backend.TaskStatus {
	return backend.TaskStatus{Status: poller.StatusError, Error: msg}
}

func csvUpload(name string) backend.Upload {
	return backend.BytesUpload(name, []byte("email,nombre\nx@y.z,Ana\n"))
}

func waitState(t *testing.T, c Controller, want State) View {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.View().State == want
	}, 2*time.Second, time.Millisecond, "state never reached %s (now %s)", want, c.View().State)
	return c.View()
}
