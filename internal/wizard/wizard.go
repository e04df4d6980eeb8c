// Package wizard implements the three guided CSV workflows as state
// machines: field transform, multi-export by category and CRM email
// dedup.
//
// A controller owns one session. Its actions are safe for concurrent use;
// an action that needs the backend while another request is outstanding
// fails with ErrBusy, while Reset, Back and selecting a new file always win
// and make any outstanding request or task watch stale. Stale responses are
// dropped and can never change the session.
//
// Long-running backend tasks are watched with the poller package. Progress
// and results flow into the session view and out to subscribers as Events.
package wizard

import (
	"context"
	"time"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/poller"
)

// Backend is the subset of the backend client the wizards use.
type Backend interface {
	poller.Fetcher[backend.TaskStatus]

	DiscoverFields(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.Columns, error)
	Preview(ctx context.Context, req backend.TransformRequest) (*backend.Preview, error)
	StartTransform(ctx context.Context, req backend.TransformRequest) (string, error)

	MultiExportInitial(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (string, error)
	MultiExportStart(ctx context.Context, req backend.ExportRequest) (string, error)

	DedupDiscover(ctx context.Context, up backend.Upload, progress backend.ProgressFunc) (*backend.DedupColumns, error)
	DedupPreview(ctx context.Context, req backend.DedupRequest) (*backend.DedupPreview, error)
	DedupStart(ctx context.Context, req backend.DedupRequest) (string, error)
}

// Controller is what every wizard exposes to its host.
type Controller interface {
	ID() string
	Kind() Flow
	View() View
	Subscribe(fn func(Event)) (dispose func())
	LastActivity() time.Time
	Active() bool

	// Back steps to the previous stable state, abandoning any request or
	// task in flight.
	Back() error

	// Reset returns to Idle and clears everything.
	Reset()

	Close()
}

// New creates a controller for flow.
func New(flow Flow, be Backend, opts Options) (Controller, bool) {
	switch flow {
	case FlowTransform:
		return NewTransform(be, opts), true
	case FlowExport:
		return NewExport(be, opts), true
	case FlowDedup:
		return NewDedup(be, opts), true
	}
	return nil, false
}

var (
	_ Controller = (*TransformController)(nil)
	_ Controller = (*ExportController)(nil)
	_ Controller = (*DedupController)(nil)
)
