package selection

import (
	"errors"
	"reflect"
	"testing"
)

func names(fs []Field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want Class
	}{
		{"email", Mandatory},
		{"EMAIL", Mandatory},
		{"DocNum", Mandatory},
		{"icommkt_score", Tagged},
		{"ICOMMKT_Flag", Tagged},
		{"nombre", Optional},
		{"emails", Optional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.name); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSort(t *testing.T) {
	got := names(Sort([]string{"docnum", "zeta", "icommkt_b", "Email", "alpha", "icommkt_a"}))
	want := []string{"Email", "docnum", "alpha", "zeta", "icommkt_a", "icommkt_b"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sort = %v, want %v", got, want)
	}
}

func TestSort_DropsDuplicatesAndBlanks(t *testing.T) {
	got := names(Sort([]string{"a", "", "a", "email"}))
	want := []string{"email", "a"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sort = %v, want %v", got, want)
	}
}

func TestOrderedList_Validate(t *testing.T) {
	tests := []struct {
		name string
		list OrderedList
		want error
	}{
		{"valid", OrderedList{"email", "docnum", "a"}, nil},
		{"only optional", OrderedList{"a", "b"}, nil},
		{"empty", OrderedList{}, ErrEmptyList},
		{"duplicate", OrderedList{"email", "a", "A"}, ErrDuplicateField},
		{"mandatory after optional", OrderedList{"a", "email"}, ErrMandatoryOrder},
		{"docnum before email", OrderedList{"docnum", "email", "a"}, ErrMandatoryOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.list.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFields_NewSelectsMandatory(t *testing.T) {
	f := NewFields([]string{"email", "docnum", "nombre", "icommkt_x"})

	got := f.Selected()
	want := []string{"email", "docnum"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Selected = %v, want %v", got, want)
	}
	if f.HasOptionalSelected() {
		t.Error("HasOptionalSelected = true, want false")
	}
}

func TestFields_Toggle(t *testing.T) {
	f := NewFields([]string{"email", "nombre"})

	if err := f.Toggle("nombre", true); err != nil {
		t.Fatalf("Toggle(nombre) failed: %v", err)
	}
	if !f.HasOptionalSelected() {
		t.Error("HasOptionalSelected = false after selecting nombre")
	}

	if err := f.Toggle("email", false); !errors.Is(err, ErrFieldFixed) {
		t.Errorf("Toggle(email, false) = %v, want ErrFieldFixed", err)
	}
	if err := f.Toggle("missing", true); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Toggle(missing) = %v, want ErrUnknownField", err)
	}
}

func TestFields_ToggleAllSkipsTagged(t *testing.T) {
	f := NewFields([]string{"email", "a", "b", "icommkt_c"})

	if on := f.ToggleAll(); !on {
		t.Fatal("first ToggleAll should select")
	}
	want := []string{"email", "a", "b"}
	if got := f.Selected(); !reflect.DeepEqual(got, want) {
		t.Errorf("after select all, Selected = %v, want %v", got, want)
	}

	if on := f.ToggleAll(); on {
		t.Fatal("second ToggleAll should clear")
	}
	want = []string{"email"}
	if got := f.Selected(); !reflect.DeepEqual(got, want) {
		t.Errorf("after clear all, Selected = %v, want %v", got, want)
	}
}

func TestFields_ApplyPreset(t *testing.T) {
	p, ok := LookupPreset("arplus-cumple")
	if !ok {
		t.Fatal("arplus-cumple preset not registered")
	}

	f := NewFields([]string{"email", "docnum", "PLUS_SOCIO_NOMBRE", "PLUS_NRO_SOCIO", "other"})
	if err := f.Toggle("other", true); err != nil {
		t.Fatal(err)
	}

	if found := f.ApplyPreset(p); found != 2 {
		t.Errorf("ApplyPreset found = %d, want 2", found)
	}

	want := []string{"email", "docnum", "PLUS_NRO_SOCIO", "PLUS_SOCIO_NOMBRE"}
	if got := f.Selected(); !reflect.DeepEqual(got, want) {
		t.Errorf("Selected = %v, want %v", got, want)
	}

	rows := f.List()
	if last := rows[len(rows)-1]; last.Name != "other" || last.Selected {
		t.Errorf("last row = %+v, want unselected other", last)
	}
}

func TestFields_Filter(t *testing.T) {
	f := NewFields([]string{"email", "Nombre", "apellido"})
	if err := f.Toggle("apellido", true); err != nil {
		t.Fatal(err)
	}

	f.Filter("NOM")

	visible := map[string]bool{}
	for _, row := range f.List() {
		visible[row.Name] = row.Visible
	}
	if !visible["Nombre"] || visible["apellido"] || visible["email"] {
		t.Errorf("visibility = %v, want only Nombre", visible)
	}

	want := []string{"email", "apellido"}
	if got := f.Selected(); !reflect.DeepEqual(got, want) {
		t.Errorf("filter changed selection: %v, want %v", got, want)
	}

	f.Filter("")
	for _, row := range f.List() {
		if !row.Visible {
			t.Errorf("%s hidden after clearing filter", row.Name)
		}
	}
}

func TestRegisterPreset_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterPreset(Preset{Key: "arplus-cumple"})
}

func TestSort_CaseVariantsAreDuplicates(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"email", "Email", "docnum"}, []string{"email", "docnum"}},
		{[]string{"DOCNUM", "x", "docnum", "X"}, []string{"DOCNUM", "x"}},
	}

	for _, tt := range tests {
		got := names(Sort(tt.in))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Sort(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if err := OrderedList(NewFields(tt.in).Selected()).Validate(); err != nil {
			t.Errorf("pre-selection of %v: Validate() = %v, want nil", tt.in, err)
		}
	}
}
