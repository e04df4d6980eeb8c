package selection

import (
	"fmt"
	"strings"
)

// FieldState is one row of the field checklist.
type FieldState struct {
	Field
	Selected bool `json:"selected"`
	Visible  bool `json:"visible"`
}

// Fields is the field checklist shown after discovery. Mandatory fields are
// selected on construction and can never be deselected.
type Fields struct {
	items  []FieldState
	filter string
}

// NewFields builds the checklist from discovered column names.
func NewFields(names []string) *Fields {
	sorted := Sort(names)
	items := make([]FieldState, len(sorted))
	for i, f := range sorted {
		items[i] = FieldState{Field: f, Selected: f.Fixed(), Visible: true}
	}
	return &Fields{items: items}
}

func (f *Fields) find(name string) int {
	for i := range f.items {
		if f.items[i].Name == name {
			return i
		}
	}
	return -1
}

// Toggle selects or deselects a field.
func (f *Fields) Toggle(name string, on bool) error {
	i := f.find(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if f.items[i].Fixed() {
		if !on {
			return fmt.Errorf("%w: %s", ErrFieldFixed, name)
		}
		return nil
	}
	f.items[i].Selected = on
	return nil
}

// ToggleAll flips every optional field: when all of them are selected they
// are cleared, otherwise they are all selected. Tagged and mandatory fields
// are left alone. It returns the new selection state.
func (f *Fields) ToggleAll() bool {
	all := true
	for _, it := range f.items {
		if it.Class == Optional && !it.Selected {
			all = false
			break
		}
	}
	for i := range f.items {
		if f.items[i].Class == Optional {
			f.items[i].Selected = !all
		}
	}
	return !all
}

// ApplyPreset clears every non-mandatory field, selects the preset columns
// that exist and moves them right after the mandatory fields, in preset
// order. It returns how many preset columns were found.
func (f *Fields) ApplyPreset(p Preset) int {
	for i := range f.items {
		if !f.items[i].Fixed() {
			f.items[i].Selected = false
		}
	}

	placed := make([]bool, len(f.items))
	ordered := make([]FieldState, 0, len(f.items))
	for i, it := range f.items {
		if it.Fixed() {
			ordered = append(ordered, it)
			placed[i] = true
		}
	}

	found := 0
	for _, col := range p.Columns {
		i := f.find(col)
		if i < 0 || placed[i] {
			continue
		}
		it := f.items[i]
		it.Selected = true
		ordered = append(ordered, it)
		placed[i] = true
		found++
	}

	for i, it := range f.items {
		if !placed[i] {
			ordered = append(ordered, it)
		}
	}
	f.items = ordered
	return found
}

// Filter hides fields whose name does not contain term (case-insensitive).
// An empty term shows everything. Hidden fields keep their selection.
func (f *Fields) Filter(term string) {
	f.filter = term
	needle := strings.ToLower(term)
	for i := range f.items {
		f.items[i].Visible = strings.Contains(strings.ToLower(f.items[i].Name), needle)
	}
}

// FilterTerm returns the active search term.
func (f *Fields) FilterTerm() string {
	return f.filter
}

// Selected returns the selected field names in checklist order.
func (f *Fields) Selected() []string {
	var out []string
	for _, it := range f.items {
		if it.Selected {
			out = append(out, it.Name)
		}
	}
	return out
}

// HasOptionalSelected reports whether anything besides the mandatory fields
// is selected.
func (f *Fields) HasOptionalSelected() bool {
	for _, it := range f.items {
		if it.Selected && !it.Fixed() {
			return true
		}
	}
	return false
}

// List returns a copy of the checklist rows.
func (f *Fields) List() []FieldState {
	return append([]FieldState(nil), f.items...)
}
