package wizard

import (
	"context"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
)

// ExportController drives the multi-export wizard:
//
//	Idle -> Uploading -> Analyzing -> Selecting -> Processing -> Downloadable
//
// The upload sends the whole file; the backend then analyzes it as a task
// whose result lists the unique values per category. The user picks
// categories and items and the export runs as a second task.
type ExportController struct {
	base
	be Backend
	s  exportSession
}

type exportSession struct {
	upload    *backend.Upload
	filepath  string
	hierarchy *selection.Hierarchy
	result    string
}

// NewExport creates a multi-export wizard in Idle.
func NewExport(be Backend, opts Options) *ExportController {
	c := &ExportController{be: be}
	c.setup(FlowExport, be, opts, c.render)
	return c
}

func (c *ExportController) render() View {
	v := View{
		Filepath: c.s.filepath,
		Result:   c.s.result,
	}
	if c.s.upload != nil {
		v.FileName = c.s.upload.Name
	}
	if c.s.hierarchy != nil {
		v.Categories = c.s.hierarchy.Categories()
		v.CanStartExport = c.s.hierarchy.CanStartExport()
	}
	return v
}

// ChooseFile records the file to upload, discarding the current session.
// Nothing is sent until Upload.
func (c *ExportController) ChooseFile(up backend.Upload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	defer c.commit()
	if !up.Valid() {
		return c.reject("Select a CSV file first.", ErrNoFile)
	}

	c.invalidate()
	c.s = exportSession{upload: &up}
	c.state = StateIdle
	return nil
}

// Upload sends the chosen file and starts watching the analysis task.
func (c *ExportController) Upload(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("upload", StateIdle); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.upload == nil {
		err := c.reject("Select a CSV file first.", ErrNoFile)
		c.commit()
		return err
	}

	up := *c.s.upload
	c.uploadPct = 0
	c.state = StateUploading
	call := c.beginCall(ctx)
	c.commit()

	taskID, err := c.be.MultiExportInitial(call.ctx, up, c.uploadProgress(call.epoch))

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.state = StateIdle
		c.fail(err)
		return err
	}

	c.uploadPct = 100
	c.state = StateAnalyzing
	c.notify(LevelInfo, "File uploaded. Analyzing categories.")
	c.watch(taskID, taskHooks{
		stage: StageAnalysis,
		onComplete: func(st backend.TaskStatus) (string, error) {
			a, err := st.Analysis()
			if err != nil {
				return "", err
			}
			c.s.filepath = a.Filepath
			c.s.hierarchy = selection.NewHierarchy(a.UniqueData)
			c.state = StateSelecting
			if c.s.hierarchy.Len() == 0 {
				c.notify(LevelWarning, "No categories were found in this file.")
			} else {
				c.notify(LevelSuccess, "Analysis complete. Choose what to export.")
			}
			return a.Filepath, nil
		},
		onError: func(string) {
			c.state = StateIdle
		},
	})
	c.logger.Info("multi-export analysis started", "task_id", taskID, "file", up.Name)
	return nil
}

// ToggleCategory selects or clears every item of a category.
func (c *ExportController) ToggleCategory(key string, on bool) error {
	c.mu.Lock()
	if err := c.guard("toggle category", StateSelecting); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	if err := c.s.hierarchy.ToggleCategory(key, on); err != nil {
		return c.reject(err.Error(), err)
	}
	return nil
}

// ToggleItem selects or clears a single item.
func (c *ExportController) ToggleItem(key, item string, on bool) error {
	c.mu.Lock()
	if err := c.guard("toggle item", StateSelecting); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	if err := c.s.hierarchy.ToggleItem(key, item, on); err != nil {
		return c.reject(err.Error(), err)
	}
	return nil
}

// StartExport sends the selection and starts watching the export task.
func (c *ExportController) StartExport(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("start export", StateSelecting); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.s.filepath == "" {
		err := c.reject("The uploaded file is no longer available. Upload it again.", ErrNoFile)
		c.commit()
		return err
	}
	if !c.s.hierarchy.CanStartExport() {
		err := c.reject("Select at least one item to export.", ErrNoItems)
		c.commit()
		return err
	}

	req := backend.ExportRequest{
		Filepath:      c.s.filepath,
		SelectedItems: c.s.hierarchy.Selected(),
	}
	call := c.beginCall(ctx)
	c.commit()

	taskID, err := c.be.MultiExportStart(call.ctx, req)

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
	c.s.result = ""
	c.watch(taskID, taskHooks{
		stage: StageProcess,
		onComplete: func(st backend.TaskStatus) (string, error) {
			loc, err := st.Locator()
			if err != nil {
				return "", err
			}
			c.s.result = loc
			c.state = StateDownloadable
			c.notify(LevelSuccess, "Export complete. The archive is ready to download.")
			return loc, nil
		},
		onError: func(string) {
			c.state = StateSelecting
		},
	})
	c.logger.Info("multi-export started", "task_id", taskID, "items", countSelected(req.SelectedItems))
	return nil
}

func countSelected(items map[string][]string) int {
	n := 0
	for _, v := range items {
		n += len(v)
	}
	return n
}

// Back returns to category selection from Processing or Downloadable, or
// abandons an upload or analysis in progress.
func (c *ExportController) Back() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	defer c.commit()

	switch c.state {
	case StateProcessing, StateDownloadable:
		c.invalidate()
		c.s.result = ""
		c.state = StateSelecting
	case StateSelecting:
		if c.busy {
			c.invalidate()
		}
	case StateUploading, StateAnalyzing:
		c.invalidate()
		c.s.filepath = ""
		c.s.hierarchy = nil
		c.state = StateIdle
	default:
		return wrongState("go back", c.state)
	}
	return nil
}

// Reset discards the session and returns to Idle.
func (c *ExportController) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	defer c.commit()
	c.invalidate()
	c.s = exportSession{}
	c.state = StateIdle
	c.notify(LevelInfo, "Form reset.")
}
