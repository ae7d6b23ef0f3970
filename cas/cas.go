// Package cas provides content hashes, an in-memory content addressed store
// and an LRU used for run caches.
package cas

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
)

type Hash uint64

func (h Hash) String() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// Sum hashes a byte string.
func Sum(data []byte) Hash {
	return Hash(farm.Hash64(data))
}

// SumString hashes a sequence of strings. Each part is length prefixed so
// ("ab", "c") and ("a", "bc") differ.
func SumString(parts ...string) Hash {
	var buf []byte
	for _, p := range parts {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return Sum(buf)
}

// Combine derives one hash from an ordered list. The order matters.
func Combine(hashes ...Hash) Hash {
	buf := make([]byte, 0, 8*len(hashes))
	for _, h := range hashes {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(h))
	}
	return Hash(farm.Fingerprint64(buf))
}

// CAS stores immutable blobs by their hash.
type CAS interface {
	Put(data []byte) (Hash, error)
	Get(h Hash) ([]byte, bool)
	Has(h Hash) bool
}

// Refs names blobs under stable keys that are not content hashes.
type Refs interface {
	SetRef(name, target Hash) error
	Ref(name Hash) (Hash, bool)
}

// Store is a CAS with named refs.
type Store interface {
	CAS
	Refs
}
