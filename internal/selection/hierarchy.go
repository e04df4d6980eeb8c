package selection

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrUnknownItem     = errors.New("unknown item")
)

// TriState is the aggregate selection state of a category.
type TriState int

const (
	Unselected TriState = iota
	Mixed
	Selected
)

func (t TriState) String() string {
	switch t {
	case Selected:
		return "selected"
	case Mixed:
		return "mixed"
	default:
		return "unselected"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (t TriState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TriState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "selected":
		*t = Selected
	case "mixed":
		*t = Mixed
	case "unselected":
		*t = Unselected
	default:
		return fmt.Errorf("unknown selection state %q", b)
	}
	return nil
}

// Rollup derives a category state from its selected and total item counts.
func Rollup(selected, total int) TriState {
	switch {
	case total == 0 || selected == 0:
		return Unselected
	case selected >= total:
		return Selected
	default:
		return Mixed
	}
}

// Known multi-export categories, in display order.
var knownCategories = []struct{ key, label string }{
	{"bancos", "Bancos"},
	{"tarjetas", "Tarjetas"},
	{"cobrands", "Cobrands"},
	{"partners", "Partners"},
}

// CategoryKeys returns the known category keys in display order.
func CategoryKeys() []string {
	keys := make([]string, len(knownCategories))
	for i, c := range knownCategories {
		keys[i] = c.key
	}
	return keys
}

// Item is one selectable value within a category.
type Item struct {
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Category is a read-only view of one category.
type Category struct {
	Key   string   `json:"key"`
	Label string   `json:"label"`
	State TriState `json:"state"`
	Items []Item   `json:"items"`
}

type category struct {
	key, label string
	items      []string
	selected   map[string]bool
}

func (c *category) state() TriState {
	return Rollup(len(c.selected), len(c.items))
}

// Hierarchy is the two-level category/item selection. Category states are
// derived from item selections and never stored.
type Hierarchy struct {
	order []string
	cats  map[string]*category
}

// NewHierarchy builds the selection from the unique values found per
// category. Categories with no values are omitted. Known categories come
// first in their fixed order; unrecognized keys follow alphabetically.
func NewHierarchy(data map[string][]string) *Hierarchy {
	h := &Hierarchy{cats: make(map[string]*category)}

	add := func(key, label string) {
		items := dedupe(data[key])
		if len(items) == 0 {
			return
		}
		h.order = append(h.order, key)
		h.cats[key] = &category{key: key, label: label, items: items, selected: make(map[string]bool)}
	}

	known := make(map[string]bool, len(knownCategories))
	for _, c := range knownCategories {
		known[c.key] = true
		add(c.key, c.label)
	}

	var extra []string
	for key := range data {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		add(key, key)
	}
	return h
}

func dedupe(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (h *Hierarchy) category(key string) (*category, error) {
	c, ok := h.cats[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, key)
	}
	return c, nil
}

// ToggleCategory selects or clears every item in a category.
func (h *Hierarchy) ToggleCategory(key string, on bool) error {
	c, err := h.category(key)
	if err != nil {
		return err
	}
	if !on {
		clear(c.selected)
		return nil
	}
	for _, it := range c.items {
		c.selected[it] = true
	}
	return nil
}

// ToggleItem selects or clears one item.
func (h *Hierarchy) ToggleItem(key, item string, on bool) error {
	c, err := h.category(key)
	if err != nil {
		return err
	}
	if !slices.Contains(c.items, item) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownItem, key, item)
	}
	if on {
		c.selected[item] = true
	} else {
		delete(c.selected, item)
	}
	return nil
}

// State returns the derived state of a category. Unknown keys report
// Unselected.
func (h *Hierarchy) State(key string) TriState {
	c, ok := h.cats[key]
	if !ok {
		return Unselected
	}
	return c.state()
}

// CanStartExport reports whether at least one item is selected anywhere.
func (h *Hierarchy) CanStartExport() bool {
	for _, c := range h.cats {
		if len(c.selected) > 0 {
			return true
		}
	}
	return false
}

// Selected returns the selected items per category, in item order. Every
// known category key is present, with an empty list when nothing is picked.
func (h *Hierarchy) Selected() map[string][]string {
	out := make(map[string][]string, len(knownCategories)+len(h.order))
	for _, c := range knownCategories {
		out[c.key] = []string{}
	}
	for _, key := range h.order {
		c := h.cats[key]
		picked := []string{}
		for _, it := range c.items {
			if c.selected[it] {
				picked = append(picked, it)
			}
		}
		out[key] = picked
	}
	return out
}

// Categories returns a view of every category in display order.
func (h *Hierarchy) Categories() []Category {
	out := make([]Category, 0, len(h.order))
	for _, key := range h.order {
		c := h.cats[key]
		items := make([]Item, len(c.items))
		for i, it := range c.items {
			items[i] = Item{Value: it, Selected: c.selected[it]}
		}
		out = append(out, Category{Key: c.key, Label: c.label, State: c.state(), Items: items})
	}
	return out
}

// Len returns the number of non-empty categories.
func (h *Hierarchy) Len() int {
	return len(h.order)
}
