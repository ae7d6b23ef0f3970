package project

import (
	"fmt"

	"github.com/quill-lang/quill/cas"
	"github.com/quill-lang/quill/codec"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/stdlib"
	"github.com/shamaton/msgpack/v2"
)

type storedOutput struct {
	Bundle   []byte           `msgpack:"bundle"`
	Result   codec.Entrypoint `msgpack:"result"`
	Bindings codec.Entrypoint `msgpack:"bindings"`
	Exports  codec.Entrypoint `msgpack:"exports"`
}

// outputStore keeps encoded outputs in a content-addressed store. Each output
// cache key is a ref to its encoded output, so any project sharing the store
// can reuse it.
type outputStore struct {
	cas cas.Store
	lib *stdlib.Library
}

func newOutputStore(c cas.Store) *outputStore {
	return &outputStore{cas: c, lib: stdlib.New()}
}

func (s *outputStore) put(key cas.Hash, out *interp.Output) error {
	enc := codec.NewEncoder()
	var so storedOutput
	var err error
	if so.Result, err = enc.Value(out.Result); err != nil {
		return err
	}
	if so.Bindings, err = enc.Value(out.Bindings); err != nil {
		return err
	}
	if so.Exports, err = enc.Value(out.Exports); err != nil {
		return err
	}
	if so.Bundle, err = codec.Encode(enc.Bundle()); err != nil {
		return err
	}
	data, err := msgpack.Marshal(so)
	if err != nil {
		return fmt.Errorf("encoding stored output: %w", err)
	}
	h, err := s.cas.Put(data)
	if err != nil {
		return err
	}
	return s.cas.SetRef(key, h)
}

// get returns nil without an error when key was never stored.
func (s *outputStore) get(key cas.Hash) (*interp.Output, error) {
	h, ok := s.cas.Ref(key)
	if !ok {
		return nil, nil
	}
	data, ok := s.cas.Get(h)
	if !ok {
		return nil, fmt.Errorf("stored output %s is missing", h)
	}
	var so storedOutput
	if err := msgpack.Unmarshal(data, &so); err != nil {
		return nil, fmt.Errorf("decoding stored output %s: %w", h, err)
	}
	b, err := codec.Decode(so.Bundle)
	if err != nil {
		return nil, err
	}
	dec := codec.NewDecoder(b, s.lib)
	out := &interp.Output{}
	if out.Result, err = dec.Value(so.Result); err != nil {
		return nil, err
	}
	if out.Bindings, err = dec.Dict(so.Bindings); err != nil {
		return nil, err
	}
	if out.Exports, err = dec.Dict(so.Exports); err != nil {
		return nil, err
	}
	return out, nil
}
