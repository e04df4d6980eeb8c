package wizard

import (
	"time"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/poller"
	"github.com/JonMunkholm/csvwizard/internal/selection"
)

// Flow names a wizard.
type Flow string

const (
	FlowTransform Flow = "transform"
	FlowExport    Flow = "export"
	FlowDedup     Flow = "dedup"
)

// ParseFlow validates a flow name.
func ParseFlow(s string) (Flow, bool) {
	switch f := Flow(s); f {
	case FlowTransform, FlowExport, FlowDedup:
		return f, true
	}
	return "", false
}

// State is a wizard step.
type State string

const (
	StateIdle                   State = "idle"
	StateAwaitingFieldSelection State = "awaiting_field_selection"
	StateReordering             State = "reordering"
	StatePreviewing             State = "previewing"
	StateUploading              State = "uploading"
	StateAnalyzing              State = "analyzing"
	StateSelecting              State = "selecting"
	StateProcessing             State = "processing"
	StateDownloadable           State = "downloadable"
)

// ReorderItem is one row of the reorder list.
type ReorderItem struct {
	Name   string `json:"name"`
	Fixed  bool   `json:"fixed"`
	Moving bool   `json:"moving"`
}

// DedupColumn is one row of the dedup column checklist.
type DedupColumn struct {
	Name      string `json:"name"`
	Suggested bool   `json:"suggested"`
	Selected  bool   `json:"selected"`
}

// View is a point-in-time copy of a session. Fields that do not apply to
// the flow or step are left empty.
type View struct {
	ID    string `json:"id"`
	Flow  Flow   `json:"flow"`
	State State  `json:"state"`
	Busy  bool   `json:"busy"`
	Seq   uint64 `json:"seq"`

	FileName              string `json:"file_name,omitempty"`
	Filepath              string `json:"filepath,omitempty"`
	NeedsDocnumGeneration bool   `json:"needs_docnum_generation,omitempty"`

	Fields  []selection.FieldState `json:"fields,omitempty"`
	Filter  string                 `json:"filter,omitempty"`
	Reorder []ReorderItem          `json:"reorder,omitempty"`
	Columns []string               `json:"columns,omitempty"`
	Preview []map[string]any       `json:"preview,omitempty"`

	Categories     []selection.Category `json:"categories,omitempty"`
	CanStartExport bool                 `json:"can_start_export,omitempty"`

	DedupColumns []DedupColumn  `json:"dedup_columns,omitempty"`
	DedupPreview []string       `json:"dedup_preview,omitempty"`
	Stats        *backend.Stats `json:"stats,omitempty"`

	UploadPercent int    `json:"upload_percent"`
	TaskID        string `json:"task_id,omitempty"`
	TaskPercent   int    `json:"task_percent"`

	Result        string         `json:"result,omitempty"`
	InvalidResult string         `json:"invalid_result,omitempty"`
	ProcessedRows *int           `json:"processed_rows,omitempty"`
	FinalStats    *backend.Stats `json:"final_stats,omitempty"`

	Error         string         `json:"error,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Stage names the task a session was waiting on.
type Stage string

const (
	StageAnalysis Stage = "analysis"
	StageProcess  Stage = "process"
)

// Outcome describes a task that reached a terminal status.
type Outcome struct {
	Flow          Flow           `json:"flow"`
	Stage         Stage          `json:"stage"`
	TaskID        string         `json:"task_id"`
	Status        poller.Status  `json:"status"`
	Result        string         `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	ProcessedRows *int           `json:"processed_rows,omitempty"`
	Stats         *backend.Stats `json:"stats,omitempty"`
}

// Event is published after every change. Outcome is set only for the change
// that ended a task. Observers may receive events out of order when actions
// race; View.Seq orders them.
type Event struct {
	View    View
	Outcome *Outcome
}
