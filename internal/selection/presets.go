package selection

import (
	"fmt"
	"sort"
	"sync"
)

// Preset is a named column selection applied in one step.
type Preset struct {
	Key     string
	Label   string
	Columns []string
}

var (
	presets   = make(map[string]Preset)
	presetsMu sync.RWMutex
)

// RegisterPreset adds a preset to the registry.
// Panics if a preset with the same key is already registered.
func RegisterPreset(p Preset) {
	presetsMu.Lock()
	defer presetsMu.Unlock()

	if _, exists := presets[p.Key]; exists {
		panic(fmt.Sprintf("preset already registered: %s", p.Key))
	}
	presets[p.Key] = p
}

// LookupPreset returns a preset by key.
func LookupPreset(key string) (Preset, bool) {
	presetsMu.RLock()
	defer presetsMu.RUnlock()

	p, ok := presets[key]
	return p, ok
}

// Presets returns all registered presets sorted by key.
func Presets() []Preset {
	presetsMu.RLock()
	defer presetsMu.RUnlock()

	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func init() {
	RegisterPreset(Preset{
		Key:   "arplus-cumple",
		Label: "ARPLUS Cumple",
		Columns: []string{
			"PLUS_NRO_SOCIO",
			"PLUS_SOCIO_CATEGORIA",
			"PLUS_MILLAS_SALDO",
			"PLUS_SOCIO_NOMBRE",
			"PLUS_SOCIO_APELLIDO",
			"PLUS_SOCIO_CUMPLEANIOS_FECHA",
			"PLUS_SOCIO_MES_CUMPLEANIO",
			"PLUS_SOCIO_MES_CUMPLEANIO_CUPON",
		},
	})
}
