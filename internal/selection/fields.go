// Package selection holds the selection models behind the wizard steps:
// field classification and ordering, the reorder engine, the two-level
// category selection used by multi-export, and column presets.
//
// Nothing in this package performs I/O. Every type is driven by explicit
// method calls so it can be exercised without a browser or pointer device.
package selection

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TagPrefix marks fields that belong to the tagged group. Matching is
// case-insensitive.
const TagPrefix = "icommkt_"

// Mandatory field names, in their fixed relative order.
const (
	FieldEmail  = "email"
	FieldDocnum = "docnum"
)

var (
	ErrFieldFixed     = errors.New("mandatory field cannot be deselected")
	ErrUnknownField   = errors.New("unknown field")
	ErrDuplicateField = errors.New("duplicate field")
	ErrEmptyList      = errors.New("no fields selected")
	ErrMandatoryOrder = errors.New("mandatory fields must lead the list")
	ErrInvalidOrder   = errors.New("order does not match the fields being reordered")
)

// Class is the classification of a discovered field.
type Class int

const (
	Optional Class = iota
	Mandatory
	Tagged
)

func (c Class) String() string {
	switch c {
	case Mandatory:
		return "mandatory"
	case Tagged:
		return "tagged"
	default:
		return "optional"
	}
}

// MarshalText renders the class by name in JSON payloads.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	switch string(b) {
	case "mandatory":
		*c = Mandatory
	case "tagged":
		*c = Tagged
	case "optional":
		*c = Optional
	default:
		return fmt.Errorf("unknown field class %q", b)
	}
	return nil
}

// Field is a discovered column and its classification.
type Field struct {
	Name  string `json:"name"`
	Class Class  `json:"class"`
}

// Fixed reports whether the field is pinned (always selected, never moved).
func (f Field) Fixed() bool {
	return f.Class == Mandatory
}

// Classify returns the class of a field name.
func Classify(name string) Class {
	if IsMandatory(name) {
		return Mandatory
	}
	if strings.HasPrefix(strings.ToLower(name), TagPrefix) {
		return Tagged
	}
	return Optional
}

// IsMandatory reports whether name is "email" or "docnum", ignoring case.
func IsMandatory(name string) bool {
	return strings.EqualFold(name, FieldEmail) || strings.EqualFold(name, FieldDocnum)
}

// mandatoryRank orders mandatory fields: email first, docnum second.
func mandatoryRank(name string) int {
	if strings.EqualFold(name, FieldEmail) {
		return 0
	}
	return 1
}

// Sort classifies names and orders them for display: mandatory fields first
// (email before docnum), then optional fields alphabetically, then tagged
// fields alphabetically. Names that differ only in case are duplicates; the
// first one wins.
func Sort(names []string) []Field {
	var mandatory, optional, tagged []Field
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		f := Field{Name: name, Class: Classify(name)}
		switch f.Class {
		case Mandatory:
			mandatory = append(mandatory, f)
		case Tagged:
			tagged = append(tagged, f)
		default:
			optional = append(optional, f)
		}
	}

	sort.SliceStable(mandatory, func(i, j int) bool {
		return mandatoryRank(mandatory[i].Name) < mandatoryRank(mandatory[j].Name)
	})
	byName := func(fs []Field) func(i, j int) bool {
		return func(i, j int) bool {
			return strings.ToLower(fs[i].Name) < strings.ToLower(fs[j].Name)
		}
	}
	sort.SliceStable(optional, byName(optional))
	sort.SliceStable(tagged, byName(tagged))

	out := make([]Field, 0, len(mandatory)+len(optional)+len(tagged))
	out = append(out, mandatory...)
	out = append(out, optional...)
	return append(out, tagged...)
}

// OrderedList is the ordered set of selected field names sent with preview
// and transform requests.
type OrderedList []string

// Validate checks the list is non-empty, duplicate-free, and that mandatory
// fields form the leading prefix with email before docnum.
func (l OrderedList) Validate() error {
	if len(l) == 0 {
		return ErrEmptyList
	}

	seen := make(map[string]bool, len(l))
	inPrefix := true
	lastRank := -1
	for _, name := range l {
		key := strings.ToLower(name)
		if seen[key] {
			return ErrDuplicateField
		}
		seen[key] = true

		if !IsMandatory(name) {
			inPrefix = false
			continue
		}
		if !inPrefix {
			return ErrMandatoryOrder
		}
		rank := mandatoryRank(name)
		if rank < lastRank {
			return ErrMandatoryOrder
		}
		lastRank = rank
	}
	return nil
}

// Clone returns an independent copy of the list.
func (l OrderedList) Clone() OrderedList {
	if l == nil {
		return nil
	}
	return append(OrderedList(nil), l...)
}
