package compiler

import "github.com/quill-lang/quill/vm"

// scope is a persistent snapshot of the names visible at one point. Define
// returns a new snapshot that shares its parent; the old one stays valid, so
// leaving a block or lambda is just going back to the saved pointer.
type scope struct {
	name   string
	typ    vm.Type
	parent *scope
}

func (s *scope) Define(name string, typ vm.Type) *scope {
	return &scope{name: name, typ: typ, parent: s}
}

func (s *scope) Lookup(name string) (vm.Type, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name {
			return cur.typ, true
		}
	}
	return nil, false
}

// Externals supplies values visible to a module without a local definition:
// the standard library, continued bindings and imported modules.
type Externals interface {
	Get(name string) (vm.Value, bool)
}

// MapExternals is a map-backed Externals. Later layers shadow earlier ones.
type MapExternals []map[string]vm.Value

func (m MapExternals) Get(name string) (vm.Value, bool) {
	for i := len(m) - 1; i >= 0; i-- {
		if v, ok := m[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Layers chains several Externals. Later layers shadow earlier ones.
type Layers []Externals

func (l Layers) Get(name string) (vm.Value, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i] == nil {
			continue
		}
		if v, ok := l[i].Get(name); ok {
			return v, true
		}
	}
	return nil, false
}
