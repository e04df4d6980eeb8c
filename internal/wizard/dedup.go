package wizard

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JonMunkholm/csvwizard/internal/backend"
)

// DedupController drives the CRM email dedup wizard:
//
//	Idle -> AwaitingFieldSelection -> Previewing -> Processing -> Downloadable
//
// Columns the backend suggests as email columns are listed first and
// pre-selected.
type DedupController struct {
	base
	be Backend
	s  dedupSession
}

type dedupSession struct {
	fileName      string
	filepath      string
	columns       []string
	suggested     map[string]bool
	selected      []string
	preview       []string
	stats         *backend.Stats
	result        string
	invalidResult string
	finalStats    *backend.Stats
}

// NewDedup creates a dedup wizard in Idle.
func NewDedup(be Backend, opts Options) *DedupController {
	c := &DedupController{be: be}
	c.setup(FlowDedup, be, opts, c.render)
	return c
}

func (c *DedupController) render() View {
	v := View{
		FileName:      c.s.fileName,
		Filepath:      c.s.filepath,
		Columns:       slices.Clone(c.s.selected),
		DedupPreview:  slices.Clone(c.s.preview),
		Stats:         c.s.stats,
		Result:        c.s.result,
		InvalidResult: c.s.invalidResult,
		FinalStats:    c.s.finalStats,
	}
	for _, col := range c.s.columns {
		v.DedupColumns = append(v.DedupColumns, DedupColumn{
			Name:      col,
			Suggested: c.s.suggested[col],
			Selected:  slices.Contains(c.s.selected, col),
		})
	}
	return v
}

// sortDedupColumns lists suggested columns first, each group alphabetical.
func sortDedupColumns(columns []string, suggested map[string]bool) []string {
	out := slices.Clone(columns)
	slices.SortStableFunc(out, func(a, b string) int {
		sa, sb := suggested[a], suggested[b]
		switch {
		case sa && !sb:
			return -1
		case !sa && sb:
			return 1
		}
		return strings.Compare(a, b)
	})
	return out
}

// SelectFile discards the current session and uploads up for column
// discovery. It is accepted in any state.
func (c *DedupController) SelectFile(ctx context.Context, up backend.Upload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !up.Valid() {
		err := c.reject("Select a CSV file first.", ErrNoFile)
		c.commit()
		return err
	}

	c.invalidate()
	c.s = dedupSession{fileName: up.Name}
	c.state = StateIdle
	call := c.beginCall(ctx)
	c.commit()

	cols, err := c.be.DedupDiscover(call.ctx, up, c.uploadProgress(call.epoch))

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.s = dedupSession{}
		c.fail(err)
		return err
	}

	suggested := make(map[string]bool, len(cols.SuggestedColumns))
	var preselect []string
	for _, s := range cols.SuggestedColumns {
		if slices.Contains(cols.Columns, s) && !suggested[s] {
			suggested[s] = true
			preselect = append(preselect, s)
		}
	}

	c.s.filepath = cols.Filepath
	c.s.suggested = suggested
	c.s.columns = sortDedupColumns(cols.Columns, suggested)
	c.s.selected = preselect
	c.state = StateAwaitingFieldSelection
	c.uploadPct = 100

	if n := len(preselect); n > 0 {
		c.notify(LevelSuccess, fmt.Sprintf("Detected %d email column(s).", n))
	} else {
		c.notify(LevelWarning, "No email columns were detected. Select them manually.")
	}
	c.logger.Info("dedup columns discovered", "file", up.Name, "columns", len(cols.Columns), "suggested", len(preselect))
	return nil
}

// ToggleColumn selects or deselects an email column. Selection order is
// kept.
func (c *DedupController) ToggleColumn(name string, on bool) error {
	c.mu.Lock()
	if err := c.guard("toggle column", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()

	if !slices.Contains(c.s.columns, name) {
		return c.reject(fmt.Sprintf("Unknown column %q.", name), ErrNoSelection)
	}
	i := slices.Index(c.s.selected, name)
	switch {
	case on && i < 0:
		c.s.selected = append(c.s.selected, name)
	case !on && i >= 0:
		c.s.selected = slices.Delete(c.s.selected, i, i+1)
	}
	return nil
}

// Preview requests a sample of unique emails and the dedup counters.
func (c *DedupController) Preview(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("preview", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.s.selected) == 0 {
		err := c.reject("Select at least one email column.", ErrNoSelection)
		c.commit()
		return err
	}

	req := backend.DedupRequest{Filepath: c.s.filepath, Columns: slices.Clone(c.s.selected)}
	call := c.beginCall(ctx)
	c.commit()

	p, err := c.be.DedupPreview(call.ctx, req)

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.fail(err)
		return err
	}

	stats := p.Stats
	if !stats.Consistent() {
		c.logger.Warn("dedup stats do not add up",
			"total_raw", stats.TotalRaw,
			"total_unique", stats.TotalUnique,
			"duplicates", stats.Duplicates,
			"invalid", stats.Invalid,
		)
	}
	c.s.preview = p.Preview
	c.s.stats = &stats
	c.state = StatePreviewing
	c.notify(LevelSuccess, "Preview generated.")
	return nil
}

// Process starts the dedup task.
func (c *DedupController) Process(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("process", StatePreviewing); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.s.selected) == 0 {
		err := c.reject("Select at least one email column.", ErrNoSelection)
		c.commit()
		return err
	}

	req := backend.DedupRequest{Filepath: c.s.filepath, Columns: slices.Clone(c.s.selected)}
	call := c.beginCall(ctx)
	c.commit()

	taskID, err := c.be.DedupStart(call.ctx, req)

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.fail(err)
		return err
	}

	c.state = StateProcessing
	c.s.result, c.s.invalidResult, c.s.finalStats = "", "", nil
	c.watch(taskID, taskHooks{
		stage: StageProcess,
		onComplete: func(st backend.TaskStatus) (string, error) {
			loc, err := st.Locator()
			if err != nil {
				return "", err
			}
			c.s.result = loc
			c.s.invalidResult = st.InvalidResult
			c.s.finalStats = st.Stats
			c.state = StateDownloadable
			c.notify(LevelSuccess, "Dedup complete. The file is ready to download.")
			return loc, nil
		},
		onError: func(string) {
			c.state = StatePreviewing
		},
	})
	c.logger.Info("dedup started", "task_id", taskID, "columns", len(req.Columns))
	return nil
}

// Back returns to column selection from any later step.
func (c *DedupController) Back() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	defer c.commit()

	switch c.state {
	case StateAwaitingFieldSelection:
		if c.busy {
			c.invalidate()
		}
		return nil
	case StatePreviewing, StateProcessing, StateDownloadable:
	default:
		return wrongState("go back", c.state)
	}

	c.invalidate()
	c.s.preview = nil
	c.s.stats = nil
	c.s.result, c.s.invalidResult, c.s.finalStats = "", "", nil
	c.state = StateAwaitingFieldSelection
	return nil
}

// BackToUpload returns to Idle, forgetting the uploaded file and the
// column selection.
func (c *DedupController) BackToUpload() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	defer c.commit()

	c.invalidate()
	c.s = dedupSession{}
	c.state = StateIdle
	return nil
}

// Reset discards the session and returns to Idle.
func (c *DedupController) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	defer c.commit()
	c.invalidate()
	c.s = dedupSession{}
	c.state = StateIdle
	c.notify(LevelInfo, "Form reset.")
}
