// Package codec moves value graphs across an isolation boundary as a flat
// bundle: one node array per entity kind, with cross references given as
// (kind, position) entrypoints.
package codec

import (
	"fmt"
	"reflect"

	"github.com/quill-lang/quill/errs"
)

// Entrypoint points at one node in a Bundle. The zero Entrypoint means "absent".
type Entrypoint struct {
	Kind     string `msgpack:"kind"`
	Position int    `msgpack:"pos"`
}

func (e Entrypoint) IsZero() bool {
	return e.Kind == ""
}

func (e Entrypoint) String() string {
	return fmt.Sprintf("%s[%d]", e.Kind, e.Position)
}

// Node is the serialized form of any entity. Each entity kind decides which
// fields it uses.
type Node struct {
	Kind     string       `msgpack:"kind"`
	Number   float64      `msgpack:"num"`
	Text     string       `msgpack:"text"`
	Flag     bool         `msgpack:"flag"`
	Ints     []int64      `msgpack:"ints"`
	Floats   []float64    `msgpack:"floats"`
	Texts    []string     `msgpack:"texts"`
	Refs     []Entrypoint `msgpack:"refs"`
	Tags     Entrypoint   `msgpack:"tags"`
	Source   string       `msgpack:"src"`
	Span     []int64      `msgpack:"span"`
	Children []Node       `msgpack:"children"`
}

// Bundle maps an entity kind to its node array.
type Bundle map[string][]Node

// Entity is one row of the entity table.
type Entity struct {
	Serialize   func(s *Serializer, v any) (Node, error)
	Deserialize func(d *Deserializer, n Node) (any, error)
}

type Table map[string]Entity

type memoKey struct {
	kind string
	ptr  any
}

// Serializer appends nodes to a bundle. Children are serialized before their
// parent, so a node only references positions that were already assigned.
type Serializer struct {
	table    Table
	bundle   Bundle
	memo     map[memoKey]Entrypoint
	visiting map[memoKey]bool
}

func (t Table) NewSerializer() *Serializer {
	return &Serializer{
		table:    t,
		bundle:   Bundle{},
		memo:     map[memoKey]Entrypoint{},
		visiting: map[memoKey]bool{},
	}
}

// identity returns a memo key for pointer-like values; other values are not shared.
func identity(kind string, v any) (memoKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func:
		if rv.IsNil() {
			return memoKey{}, false
		}
		return memoKey{kind: kind, ptr: rv.Pointer()}, true
	}
	return memoKey{}, false
}

func (s *Serializer) Serialize(kind string, v any) (Entrypoint, error) {
	ent, ok := s.table[kind]
	if !ok {
		return Entrypoint{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	key, shared := identity(kind, v)
	if shared {
		if ep, ok := s.memo[key]; ok {
			return ep, nil
		}
		if s.visiting[key] {
			return Entrypoint{}, fmt.Errorf("cyclic %s graph", kind)
		}
		s.visiting[key] = true
		defer delete(s.visiting, key)
	}
	node, err := ent.Serialize(s, v)
	if err != nil {
		return Entrypoint{}, err
	}
	ep := Entrypoint{Kind: kind, Position: len(s.bundle[kind])}
	s.bundle[kind] = append(s.bundle[kind], node)
	if shared {
		s.memo[key] = ep
	}
	return ep, nil
}

func (s *Serializer) Bundle() Bundle {
	return s.bundle
}

// Deserializer rebuilds entities lazily; each position is built once.
type Deserializer struct {
	table    Table
	bundle   Bundle
	memo     map[Entrypoint]any
	visiting map[Entrypoint]bool
}

func (t Table) NewDeserializer(b Bundle) *Deserializer {
	return &Deserializer{
		table:    t,
		bundle:   b,
		memo:     map[Entrypoint]any{},
		visiting: map[Entrypoint]bool{},
	}
}

func corrupt(format string, args ...any) error {
	return errs.NewProtocolError(nil, "corrupt bundle: "+format, args...)
}

func (d *Deserializer) Deserialize(ep Entrypoint) (any, error) {
	if v, ok := d.memo[ep]; ok {
		return v, nil
	}
	ent, ok := d.table[ep.Kind]
	if !ok {
		return nil, corrupt("unknown entity kind %q", ep.Kind)
	}
	nodes := d.bundle[ep.Kind]
	if ep.Position < 0 || ep.Position >= len(nodes) {
		return nil, corrupt("%s out of range (%d nodes)", ep, len(nodes))
	}
	if d.visiting[ep] {
		return nil, corrupt("%s references itself", ep)
	}
	d.visiting[ep] = true
	defer delete(d.visiting, ep)
	v, err := ent.Deserialize(d, nodes[ep.Position])
	if err != nil {
		return nil, err
	}
	d.memo[ep] = v
	return v, nil
}

// Get deserializes ep and checks the resulting Go type.
func Get[T any](d *Deserializer, ep Entrypoint) (T, error) {
	var zero T
	v, err := d.Deserialize(ep)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, corrupt("%s is %T, expected %T", ep, v, zero)
	}
	return t, nil
}
