package selection

import (
	"errors"
	"reflect"
	"testing"
)

func TestRollup(t *testing.T) {
	tests := []struct {
		selected, total int
		want            TriState
	}{
		{0, 0, Unselected},
		{0, 3, Unselected},
		{1, 3, Mixed},
		{3, 3, Selected},
	}

	for _, tt := range tests {
		if got := Rollup(tt.selected, tt.total); got != tt.want {
			t.Errorf("Rollup(%d, %d) = %v, want %v", tt.selected, tt.total, got, tt.want)
		}
	}
}

func TestNewHierarchy_OrderAndOmission(t *testing.T) {
	h := NewHierarchy(map[string][]string{
		"partners": {"P1"},
		"bancos":   {"Galicia", "Galicia", "Nacion"},
		"tarjetas": {},
		"zeta":     {"Z"},
		"alpha":    {"A"},
	})

	var keys []string
	for _, c := range h.Categories() {
		keys = append(keys, c.Key)
	}
	want := []string{"bancos", "partners", "alpha", "zeta"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("category order = %v, want %v", keys, want)
	}

	if got := len(h.Categories()[0].Items); got != 2 {
		t.Errorf("bancos items = %d, want 2 after dedupe", got)
	}
}

func TestHierarchy_CategoryToggleAndTriState(t *testing.T) {
	h := NewHierarchy(map[string][]string{
		"bancos":   {"A", "B", "C"},
		"tarjetas": {"Visa"},
	})

	if h.CanStartExport() {
		t.Error("CanStartExport = true with nothing selected")
	}

	if err := h.ToggleCategory("bancos", true); err != nil {
		t.Fatal(err)
	}
	if got := h.State("bancos"); got != Selected {
		t.Errorf("bancos state = %v, want selected", got)
	}

	if err := h.ToggleItem("bancos", "B", false); err != nil {
		t.Fatal(err)
	}
	if got := h.State("bancos"); got != Mixed {
		t.Errorf("bancos state = %v, want mixed", got)
	}
	if !h.CanStartExport() {
		t.Error("CanStartExport = false with two items selected")
	}

	sel := h.Selected()
	if !reflect.DeepEqual(sel["bancos"], []string{"A", "C"}) {
		t.Errorf("Selected[bancos] = %v", sel["bancos"])
	}
	for _, key := range CategoryKeys() {
		if sel[key] == nil {
			t.Errorf("Selected[%s] is nil, want empty list", key)
		}
	}

	if err := h.ToggleCategory("bancos", false); err != nil {
		t.Fatal(err)
	}
	if got := h.State("bancos"); got != Unselected {
		t.Errorf("bancos state = %v, want unselected", got)
	}
	if h.CanStartExport() {
		t.Error("CanStartExport = true after clearing")
	}
}

func TestHierarchy_SingleItemCategory(t *testing.T) {
	h := NewHierarchy(map[string][]string{"cobrands": {"X"}})

	if err := h.ToggleItem("cobrands", "X", true); err != nil {
		t.Fatal(err)
	}
	if got := h.State("cobrands"); got != Selected {
		t.Errorf("state = %v, want selected", got)
	}
}

func TestHierarchy_UnknownKeys(t *testing.T) {
	h := NewHierarchy(map[string][]string{"bancos": {"A"}})

	if err := h.ToggleCategory("nope", true); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("ToggleCategory(nope) = %v, want ErrUnknownCategory", err)
	}
	if err := h.ToggleItem("bancos", "Z", true); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("ToggleItem(bancos, Z) = %v, want ErrUnknownItem", err)
	}
	if got := h.State("nope"); got != Unselected {
		t.Errorf("State(nope) = %v, want unselected", got)
	}
}

func TestHierarchy_CanStartExportAcrossCategories(t *testing.T) {
	data := map[string][]string{
		"bancos":   {"Galicia", "Nacion"},
		"tarjetas": {"Visa", "Amex"},
		"partners": {"P1"},
	}

	tests := []struct {
		name string
		ops  func(h *Hierarchy) error
		want bool
	}{
		{"nothing selected", func(*Hierarchy) error { return nil }, false},
		{"only a later category", func(h *Hierarchy) error {
			return h.ToggleItem("partners", "P1", true)
		}, true},
		{"two categories then one cleared", func(h *Hierarchy) error {
			if err := h.ToggleCategory("bancos", true); err != nil {
				return err
			}
			if err := h.ToggleItem("tarjetas", "Amex", true); err != nil {
				return err
			}
			return h.ToggleCategory("bancos", false)
		}, true},
		{"every category cleared", func(h *Hierarchy) error {
			if err := h.ToggleCategory("bancos", true); err != nil {
				return err
			}
			if err := h.ToggleItem("tarjetas", "Visa", true); err != nil {
				return err
			}
			if err := h.ToggleCategory("bancos", false); err != nil {
				return err
			}
			return h.ToggleItem("tarjetas", "Visa", false)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHierarchy(data)
			if err := tt.ops(h); err != nil {
				t.Fatal(err)
			}
			if got := h.CanStartExport(); got != tt.want {
				t.Errorf("CanStartExport() = %v, want %v", got, tt.want)
			}
		})
	}
}
