package cas

import (
	"container/list"
	"sync"
)

const DefaultLRUSize = 1000

// LRU is a size bounded map with least recently used eviction.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	cache     map[K]*list.Element
	evictList *list.List
	maxSize   int
	onEvict   func(K, V)
}

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a cache holding at most maxSize entries (0 or negative means DefaultLRUSize).
func NewLRU[K comparable, V any](maxSize int) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultLRUSize
	}
	return &LRU[K, V]{
		cache:     make(map[K]*list.Element),
		evictList: list.New(),
		maxSize:   maxSize,
	}
}

// OnEvict registers a callback run for each evicted entry, under the cache lock.
func (l *LRU[K, V]) OnEvict(fn func(K, V)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEvict = fn
}

func (l *LRU[K, V]) Get(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.cache[key]; ok {
		l.evictList.MoveToFront(elem)
		return elem.Value.(*cacheEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

func (l *LRU[K, V]) Put(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.cache[key]; ok {
		l.evictList.MoveToFront(elem)
		elem.Value.(*cacheEntry[K, V]).value = value
		return
	}
	elem := l.evictList.PushFront(&cacheEntry[K, V]{key: key, value: value})
	l.cache[key] = elem
	if l.evictList.Len() > l.maxSize {
		l.evictOldest()
	}
}

func (l *LRU[K, V]) Remove(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	elem, ok := l.cache[key]
	if !ok {
		return false
	}
	l.evictList.Remove(elem)
	delete(l.cache, key)
	return true
}

func (l *LRU[K, V]) evictOldest() {
	elem := l.evictList.Back()
	if elem == nil {
		return
	}
	l.evictList.Remove(elem)
	entry := elem.Value.(*cacheEntry[K, V])
	delete(l.cache, entry.key)
	if l.onEvict != nil {
		l.onEvict(entry.key, entry.value)
	}
}

func (l *LRU[K, V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cache)
}

type CacheStats struct {
	Size    int
	MaxSize int
}

func (l *LRU[K, V]) Stats() CacheStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CacheStats{
		Size:    len(l.cache),
		MaxSize: l.maxSize,
	}
}
