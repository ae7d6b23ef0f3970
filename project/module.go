// Package project keeps a graph of named modules and runs them in dependency
// order, reusing outputs whose inputs have not changed.
package project

import (
	"maps"
	"slices"
	"strconv"

	"github.com/quill-lang/quill/cas"
	"github.com/quill-lang/quill/vm"
)

// Module is one named source unit. Pins fixes the expected hash of a
// dependency, keyed by resolved module name.
type Module struct {
	Name string
	Code string
	Pins map[string]cas.Hash
}

func (m *Module) Hash() cas.Hash {
	parts := []string{"module", m.Name, m.Code}
	for _, name := range slices.Sorted(maps.Keys(m.Pins)) {
		parts = append(parts, name, m.Pins[name].String())
	}
	return cas.SumString(parts...)
}

func environmentHash(env vm.Environment) cas.Hash {
	return cas.SumString("environment",
		strconv.Itoa(env.SampleCount),
		strconv.Itoa(env.XYPointLength),
		env.Seed,
	)
}
