package wizard

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
)

// TransformController drives the field transform wizard:
//
//	Idle -> AwaitingFieldSelection -> [Reordering] -> Previewing -> Processing -> Downloadable
//
// Reordering is skipped when only mandatory fields are selected.
type TransformController struct {
	base
	be Backend
	s  transformSession
}

type transformSession struct {
	fileName      string
	filepath      string
	needsDocnum   bool
	fields        *selection.Fields
	reorder       *selection.Reorder
	ordered       selection.OrderedList
	confirmed     selection.OrderedList
	preview       *backend.Preview
	result        string
	processedRows *int
}

// NewTransform creates a transform wizard in Idle.
func NewTransform(be Backend, opts Options) *TransformController {
	c := &TransformController{be: be}
	c.setup(FlowTransform, be, opts, c.render)
	return c
}

func (c *TransformController) render() View {
	v := View{
		FileName:              c.s.fileName,
		Filepath:              c.s.filepath,
		NeedsDocnumGeneration: c.s.needsDocnum,
		Columns:               c.s.ordered.Clone(),
		Result:                c.s.result,
		ProcessedRows:         c.s.processedRows,
	}
	if c.s.fields != nil {
		v.Fields = c.s.fields.List()
		v.Filter = c.s.fields.FilterTerm()
	}
	if c.s.reorder != nil && c.state == StateReordering {
		for _, name := range c.s.reorder.Order() {
			v.Reorder = append(v.Reorder, ReorderItem{
				Name:   name,
				Fixed:  c.s.reorder.IsFixed(name),
				Moving: name == c.s.reorder.Moving(),
			})
		}
	}
	if c.s.preview != nil {
		v.Preview = c.s.preview.Rows
	}
	return v
}

// SelectFile discards the current session and uploads up for field
// discovery. It is accepted in any state.
func (c *TransformController) SelectFile(ctx context.Context, up backend.Upload) error {
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
	c.s = transformSession{fileName: up.Name}
	c.state = StateIdle
	call := c.beginCall(ctx)
	c.commit()

	cols, err := c.be.DiscoverFields(call.ctx, up, c.uploadProgress(call.epoch))

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.s = transformSession{}
		c.fail(err)
		return err
	}

	c.s.filepath = cols.Filepath
	c.s.needsDocnum = cols.NeedsDocnumGeneration
	c.s.fields = selection.NewFields(cols.Columns)
	c.state = StateAwaitingFieldSelection
	c.uploadPct = 100

	c.notify(LevelSuccess, "File loaded and columns retrieved.")
	if c.s.needsDocnum {
		c.notify(LevelWarning, "The file has no docnum column. One will be generated automatically.")
	}
	c.logger.Info("fields discovered", "file", up.Name, "columns", len(cols.Columns))
	return nil
}

// ToggleField selects or deselects one field.
func (c *TransformController) ToggleField(name string, on bool) error {
	c.mu.Lock()
	if err := c.guard("toggle field", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	if err := c.s.fields.Toggle(name, on); err != nil {
		return c.reject(err.Error(), err)
	}
	return nil
}

// ToggleAll selects every optional field, or clears them when all are
// already selected. Tagged fields are never touched. It returns the new
// state.
func (c *TransformController) ToggleAll() (bool, error) {
	c.mu.Lock()
	if err := c.guard("toggle all fields", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return false, err
	}
	defer c.commit()
	return c.s.fields.ToggleAll(), nil
}

// ApplyPreset replaces the selection with a named preset.
func (c *TransformController) ApplyPreset(key string) error {
	c.mu.Lock()
	if err := c.guard("apply preset", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	p, ok := selection.LookupPreset(key)
	if !ok {
		return c.reject(fmt.Sprintf("Unknown preset %q.", key), ErrUnknownPreset)
	}

	found := c.s.fields.ApplyPreset(p)
	if found == 0 {
		c.notify(LevelWarning, fmt.Sprintf("None of the %s columns are in this file.", p.Label))
		return nil
	}
	c.notify(LevelSuccess, fmt.Sprintf("Preset %s applied.", p.Label))
	return nil
}

// Filter shows only fields whose name contains term.
func (c *TransformController) Filter(term string) error {
	c.mu.Lock()
	if err := c.guard("filter fields", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	c.s.fields.Filter(term)
	return nil
}

// Continue leaves field selection. With optional fields selected it opens
// the reorder step; with only mandatory fields it requests the preview
// directly.
func (c *TransformController) Continue(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("continue", StateAwaitingFieldSelection); err != nil {
		c.mu.Unlock()
		return err
	}

	selected := c.s.fields.Selected()
	if len(selected) == 0 {
		err := c.reject("Select at least one column.", ErrNoSelection)
		c.commit()
		return err
	}

	if c.s.fields.HasOptionalSelected() {
		start := selected
		if sameFields(c.s.confirmed, selected) {
			start = c.s.confirmed.Clone()
		}
		c.s.reorder = selection.NewReorder(start)
		c.state = StateReordering
		c.commit()
		return nil
	}
	if err := selection.OrderedList(selected).Validate(); err != nil {
		err = c.reject(err.Error(), err)
		c.commit()
		return err
	}
	return c.requestPreview(ctx, selected)
}

// BeginMove starts moving item in the reorder step.
func (c *TransformController) BeginMove(item string) (bool, error) {
	c.mu.Lock()
	if err := c.guard("move field", StateReordering); err != nil {
		c.mu.Unlock()
		return false, err
	}
	defer c.commit()
	return c.s.reorder.BeginMove(item), nil
}

// ConsiderDrop repositions the moving item around target.
func (c *TransformController) ConsiderDrop(pointerY float64, target string, box selection.Box) (bool, error) {
	c.mu.Lock()
	if err := c.guard("move field", StateReordering); err != nil {
		c.mu.Unlock()
		return false, err
	}
	defer c.commit()
	return c.s.reorder.ConsiderDrop(pointerY, target, box), nil
}

// EndMove finishes the current move.
func (c *TransformController) EndMove() error {
	c.mu.Lock()
	if err := c.guard("move field", StateReordering); err != nil {
		c.mu.Unlock()
		return err
	}
	defer c.commit()
	c.s.reorder.EndMove()
	return nil
}

// ConfirmOrder accepts the reordered fields and requests the preview. A
// non-nil order replaces the current one first; it must keep the mandatory
// prefix and contain exactly the fields being reordered.
func (c *TransformController) ConfirmOrder(ctx context.Context, order []string) error {
	c.mu.Lock()
	if err := c.guard("confirm order", StateReordering); err != nil {
		c.mu.Unlock()
		return err
	}

	if order != nil {
		if err := c.s.reorder.Apply(order); err != nil {
			err = c.reject(err.Error(), err)
			c.commit()
			return err
		}
	}
	c.s.reorder.EndMove()

	cols := c.s.reorder.Order()
	if err := selection.OrderedList(cols).Validate(); err != nil {
		err = c.reject(err.Error(), err)
		c.commit()
		return err
	}
	return c.requestPreview(ctx, cols)
}

// requestPreview is entered with mu held and a passed guard.
func (c *TransformController) requestPreview(ctx context.Context, cols []string) error {
	req := backend.TransformRequest{
		Filepath:              c.s.filepath,
		Columns:               cols,
		NeedsDocnumGeneration: c.s.needsDocnum,
	}
	call := c.beginCall(ctx)
	c.commit()

	p, err := c.be.Preview(call.ctx, req)

	c.mu.Lock()
	defer c.commit()
	if !c.endCall(call) {
		return ErrSuperseded
	}
	if err != nil {
		c.fail(err)
		return err
	}

	c.s.preview = p
	c.s.ordered = selection.OrderedList(p.Columns).Clone()
	if len(c.s.ordered) == 0 {
		c.s.ordered = selection.OrderedList(cols).Clone()
	}
	c.state = StatePreviewing
	c.notify(LevelSuccess, "Preview generated.")
	return nil
}

// Process starts the transform task with the previewed columns.
func (c *TransformController) Process(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("process", StatePreviewing); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.s.ordered) == 0 {
		err := c.reject("Select at least one column.", ErrNoSelection)
		c.commit()
		return err
	}

	req := backend.TransformRequest{
		Filepath:              c.s.filepath,
		Columns:               c.s.ordered.Clone(),
		NeedsDocnumGeneration: c.s.needsDocnum,
	}
	call := c.beginCall(ctx)
	c.commit()

	taskID, err := c.be.StartTransform(call.ctx, req)

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
	c.s.processedRows = nil
	c.watch(taskID, taskHooks{
		stage: StageProcess,
		onComplete: func(st backend.TaskStatus) (string, error) {
			loc, err := st.Locator()
			if err != nil {
				return "", err
			}
			c.s.result = loc
			c.s.processedRows = st.ProcessedRows
			c.state = StateDownloadable
			c.notify(LevelSuccess, "Processing complete. The file is ready to download.")
			return loc, nil
		},
		onError: func(string) {
			c.state = StatePreviewing
		},
	})
	c.logger.Info("transform started", "task_id", taskID, "columns", len(req.Columns))
	return nil
}

// Back returns to field selection from any later step, abandoning any
// request or task in flight.
func (c *TransformController) Back() error {
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
	case StateReordering, StatePreviewing, StateProcessing, StateDownloadable:
	default:
		return wrongState("go back", c.state)
	}

	c.invalidate()
	if len(c.s.ordered) > 0 {
		c.s.confirmed = c.s.ordered
	}
	c.s.reorder = nil
	c.s.preview = nil
	c.s.ordered = nil
	c.s.result = ""
	c.s.processedRows = nil
	c.state = StateAwaitingFieldSelection
	return nil
}

// Reset discards the session and returns to Idle.
func (c *TransformController) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	defer c.commit()
	c.invalidate()
	c.s = transformSession{}
	c.state = StateIdle
	c.notify(LevelInfo, "Form reset.")
}

// sameFields reports whether order holds exactly the names in selected.
func sameFields(order selection.OrderedList, selected []string) bool {
	if len(order) != len(selected) {
		return false
	}
	want := make(map[string]bool, len(selected))
	for _, name := range selected {
		want[name] = true
	}
	for _, name := range order {
		if !want[name] {
			return false
		}
		delete(want, name)
	}
	return len(want) == 0
}
