package codec

import (
	"sort"

	"github.com/quill-lang/quill/cas"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/vm"
	"github.com/shamaton/msgpack/v2"
)

// wireKind is one entity array on the wire. Kinds are written sorted so
// equal bundles encode to equal bytes.
type wireKind struct {
	Kind  string `msgpack:"kind"`
	Nodes []Node `msgpack:"nodes"`
}

// Encode writes a bundle as msgpack.
func Encode(b Bundle) ([]byte, error) {
	kinds := make([]string, 0, len(b))
	for k := range b {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	wire := make([]wireKind, len(kinds))
	for i, k := range kinds {
		wire[i] = wireKind{Kind: k, Nodes: b[k]}
	}
	return msgpack.Marshal(wire)
}

// Decode reads a msgpack bundle. Malformed input is a ProtocolError.
func Decode(data []byte) (Bundle, error) {
	var wire []wireKind
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, errs.NewProtocolError(err, "corrupt bundle: %v", err)
	}
	b := make(Bundle, len(wire))
	for _, w := range wire {
		if _, dup := b[w.Kind]; dup {
			return nil, errs.NewProtocolError(nil, "corrupt bundle: duplicate kind %q", w.Kind)
		}
		b[w.Kind] = w.Nodes
	}
	return b, nil
}

// Digest is the content hash of an encoded bundle.
func Digest(data []byte) cas.Hash {
	return cas.Sum(data)
}

// Encoder serializes quill values into one shared bundle.
type Encoder struct {
	s *Serializer
}

func NewEncoder() *Encoder {
	return &Encoder{s: NewTable(nil).NewSerializer()}
}

func (e *Encoder) Value(v vm.Value) (Entrypoint, error) {
	return e.s.Serialize(KindValue, v)
}

// Values serializes a name to value map as a dict value, keys sorted.
func (e *Encoder) Values(m map[string]vm.Value) (Entrypoint, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]vm.Value, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return e.Value(vm.NewDict(keys, values))
}

func (e *Encoder) Bundle() Bundle {
	return e.s.Bundle()
}

// Decoder reads quill values out of one bundle. Shared nodes come back as
// the same Go value.
type Decoder struct {
	d *Deserializer
}

func NewDecoder(b Bundle, lib Builtins) *Decoder {
	return &Decoder{d: NewTable(lib).NewDeserializer(b)}
}

func (d *Decoder) Value(ep Entrypoint) (vm.Value, error) {
	return Get[vm.Value](d.d, ep)
}

func (d *Decoder) Dict(ep Entrypoint) (*vm.Dict, error) {
	v, err := d.Value(ep)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(*vm.Dict)
	if !ok {
		return nil, corrupt("%s is a %s, expected a dict", ep, v.Kind())
	}
	return dict, nil
}

// Values is the inverse of Encoder.Values.
func (d *Decoder) Values(ep Entrypoint) (map[string]vm.Value, error) {
	dict, err := d.Dict(ep)
	if err != nil {
		return nil, err
	}
	out := make(map[string]vm.Value, dict.Len())
	for _, k := range dict.Keys() {
		out[k], _ = dict.Get(k)
	}
	return out, nil
}
