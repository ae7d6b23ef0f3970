package cas

import (
	"slices"
	"sync"
)

type MemoryCAS struct {
	mu   sync.RWMutex
	data map[Hash][]byte
	refs map[Hash]Hash
}

func NewMemoryCAS() *MemoryCAS {
	return &MemoryCAS{
		data: make(map[Hash][]byte),
		refs: make(map[Hash]Hash),
	}
}

func (m *MemoryCAS) Put(data []byte) (Hash, error) {
	h := Sum(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[h]; !ok {
		m.data[h] = slices.Clone(data)
	}
	return h, nil
}

func (m *MemoryCAS) Get(h Hash) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[h]
	return v, ok
}

func (m *MemoryCAS) Has(h Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[h]
	return ok
}

func (m *MemoryCAS) SetRef(name, target Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[name] = target
	return nil
}

func (m *MemoryCAS) Ref(name Hash) (Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.refs[name]
	return h, ok
}

func (m *MemoryCAS) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
