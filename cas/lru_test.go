package cas

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLRU_BasicOperation(t *testing.T) {
	cache := NewLRU[Hash, string](3)
	var evicted []Hash
	cache.OnEvict(func(k Hash, _ string) { evicted = append(evicted, k) })

	cache.Put(1, "one")
	cache.Put(2, "two")
	cache.Put(3, "three")

	// Touch 1 so 2 becomes the oldest.
	if v, ok := cache.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
	cache.Put(4, "four")

	if _, ok := cache.Get(2); ok {
		t.Errorf("entry 2 should have been evicted")
	}
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Errorf("evicted = %v, want [2]", evicted)
	}
	stats := cache.Stats()
	if stats.Size != 3 || stats.MaxSize != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLRU_UpdateAndRemove(t *testing.T) {
	cache := NewLRU[string, int](0)
	if cache.Stats().MaxSize != DefaultLRUSize {
		t.Fatalf("default size not applied")
	}
	cache.Put("a", 1)
	cache.Put("a", 2)
	if v, _ := cache.Get("a"); v != 2 {
		t.Errorf("Get(a) = %d, want 2", v)
	}
	if cache.Len() != 1 {
		t.Errorf("Len = %d, want 1", cache.Len())
	}
	if !cache.Remove("a") {
		t.Errorf("Remove(a) should report true")
	}
	if cache.Remove("a") {
		t.Errorf("second Remove(a) should report false")
	}
}

func TestMemoryCAS(t *testing.T) {
	store := NewMemoryCAS()
	data := []byte("hello")
	h, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'j'

	got, ok := store.Get(h)
	if !ok || string(got) != "hello" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if again, _ := store.Put([]byte("hello")); again != h {
		t.Errorf("same content should hash the same")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	if store.Has(Hash(99999)) {
		t.Errorf("unexpected hash present")
	}
}

func TestFileCASSurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileCAS(fs, "cache")
	if err != nil {
		t.Fatalf("NewFileCAS: %v", err)
	}
	h, err := store.Put([]byte("payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h != Sum([]byte("payload")) {
		t.Errorf("Put returned %s, want the content hash", h)
	}
	if err := store.SetRef(Hash(7), h); err != nil {
		t.Fatalf("SetRef: %v", err)
	}

	reopened, err := NewFileCAS(fs, "cache")
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	target, ok := reopened.Ref(Hash(7))
	if !ok || target != h {
		t.Fatalf("Ref(7) = %s, %v, want %s", target, ok, h)
	}
	data, ok := reopened.Get(target)
	if !ok || string(data) != "payload" {
		t.Fatalf("Get = %q, %v", data, ok)
	}
	if _, ok := reopened.Ref(Hash(8)); ok {
		t.Errorf("unexpected ref 8")
	}
}

func TestFileCASRejectsDamagedObjects(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewFileCAS(fs, "cache")
	if err != nil {
		t.Fatalf("NewFileCAS: %v", err)
	}
	h, _ := store.Put([]byte("payload"))
	if err := afero.WriteFile(fs, store.object(h), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("overwriting object: %v", err)
	}
	if _, ok := store.Get(h); ok {
		t.Errorf("damaged object should read as missing")
	}
}

func TestCombineIsOrdered(t *testing.T) {
	a, b := SumString("a"), SumString("b")
	if Combine(a, b) == Combine(b, a) {
		t.Errorf("Combine should depend on order")
	}
	if SumString("ab", "c") == SumString("a", "bc") {
		t.Errorf("SumString parts should be delimited")
	}
	if Combine(a, b) != Combine(a, b) {
		t.Errorf("Combine should be deterministic")
	}
}
