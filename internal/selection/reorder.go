package selection

import (
	"slices"
	"strings"
)

// Box is the vertical extent of a drop candidate, in the same coordinate
// space as the pointer position (y grows downward).
type Box struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Mid returns the vertical midpoint.
func (b Box) Mid() float64 {
	return b.Top + (b.Bottom-b.Top)/2
}

// Reorder lets a caller rearrange selected field names through a
// begin / consider-drop / end protocol. Mandatory fields live in a separate
// fixed prefix that no operation can reach, so the leading-prefix invariant
// holds regardless of the drop sequence.
type Reorder struct {
	fixed   []string
	movable []string
	moving  string
}

// NewReorder builds an engine over names. Mandatory names become the fixed
// prefix (email before docnum); the rest keep their given order.
func NewReorder(names []string) *Reorder {
	r := &Reorder{}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if IsMandatory(name) {
			r.fixed = append(r.fixed, name)
		} else {
			r.movable = append(r.movable, name)
		}
	}
	slices.SortStableFunc(r.fixed, func(a, b string) int {
		return mandatoryRank(a) - mandatoryRank(b)
	})
	return r
}

// IsFixed reports whether name is part of the pinned prefix.
func (r *Reorder) IsFixed(name string) bool {
	return slices.Contains(r.fixed, name)
}

// BeginMove marks item as in motion. Fixed or unknown items are ignored.
func (r *Reorder) BeginMove(item string) bool {
	if !slices.Contains(r.movable, item) {
		return false
	}
	r.moving = item
	return true
}

// ConsiderDrop repositions the item in motion relative to target: after it
// when pointerY is below the target's midpoint, before it otherwise. Fixed
// targets, the moving item itself and unknown targets are ignored. Repeating
// a call with the same arguments leaves the order unchanged. It reports
// whether the order changed.
func (r *Reorder) ConsiderDrop(pointerY float64, target string, box Box) bool {
	if r.moving == "" || target == r.moving || r.IsFixed(target) {
		return false
	}
	if !slices.Contains(r.movable, target) {
		return false
	}

	from := slices.Index(r.movable, r.moving)
	next := slices.Delete(slices.Clone(r.movable), from, from+1)

	at := slices.Index(next, target)
	if pointerY > box.Mid() {
		at++
	}
	next = slices.Insert(next, at, r.moving)

	if slices.Equal(next, r.movable) {
		return false
	}
	r.movable = next
	return true
}

// EndMove clears the in-motion marker; the current order stands.
func (r *Reorder) EndMove() {
	r.moving = ""
}

// Moving returns the item in motion, or "".
func (r *Reorder) Moving() string {
	return r.moving
}

// Order returns the full order: fixed prefix then movable items.
func (r *Reorder) Order() []string {
	out := make([]string, 0, len(r.fixed)+len(r.movable))
	out = append(out, r.fixed...)
	return append(out, r.movable...)
}

// Apply replaces the order wholesale. The proposal must contain exactly the
// engine's items and start with the fixed prefix unchanged.
func (r *Reorder) Apply(order []string) error {
	if len(order) != len(r.fixed)+len(r.movable) {
		return ErrInvalidOrder
	}
	if !slices.Equal(order[:len(r.fixed)], r.fixed) {
		return ErrMandatoryOrder
	}

	rest := order[len(r.fixed):]
	want := slices.Clone(r.movable)
	got := slices.Clone(rest)
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return ErrInvalidOrder
	}

	r.movable = slices.Clone(rest)
	r.moving = ""
	return nil
}

// Len returns the number of items, fixed included.
func (r *Reorder) Len() int {
	return len(r.fixed) + len(r.movable)
}
