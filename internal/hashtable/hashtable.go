// Package hashtable adapts biscuit's Hashtable_t
// (biscuit/src/hashtable/hashtable.go) into a generic, int-keyed cache
// used for ext2's open-inode cache. The teacher's version takes
// interface{} keys/values and hand-rolls its own hash/equal dispatch
// over a handful of key types (ustr.Ustr, int, string); this module
// only keys its cache by a small integer (the inode number), so the
// dispatch collapses into a generic Table over comparable keys with the
// same bucket-chain-with-per-bucket-lock structure. A new entry is
// pushed onto the head of its bucket's chain; chains are not sorted.
package hashtable

import "sync"

type entry[K comparable, V any] struct {
	key  K
	val  V
	hash uint32
	next *entry[K, V]
}

type bucket[K comparable, V any] struct {
	mu    sync.RWMutex
	first *entry[K, V]
}

// Table is a fixed-bucket-count hash table, safe for concurrent use.
type Table[K comparable, V any] struct {
	buckets []*bucket[K, V]
	hashFn  func(K) uint32
}

// New allocates a Table with nbuckets buckets, hashing keys with hashFn.
func New[K comparable, V any](nbuckets int, hashFn func(K) uint32) *Table[K, V] {
	t := &Table[K, V]{buckets: make([]*bucket[K, V], nbuckets), hashFn: hashFn}
	for i := range t.buckets {
		t.buckets[i] = &bucket[K, V]{}
	}
	return t
}

// NewInt allocates a Table keyed by plain ints (inode numbers), the only
// key shape this kernel's caches ever need.
func NewInt[V any](nbuckets int) *Table[int, V] {
	return New[int, V](nbuckets, func(k int) uint32 { return uint32(k) })
}

func (t *Table[K, V]) bucketFor(h uint32) *bucket[K, V] {
	return t.buckets[h%uint32(len(t.buckets))]
}

// Get returns the value stored for key, if any.
func (t *Table[K, V]) Get(key K) (V, bool) {
	h := t.hashFn(key)
	b := t.bucketFor(h)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts or overwrites key's value, returning true if this was a
// fresh insert rather than an overwrite.
func (t *Table[K, V]) Set(key K, val V) bool {
	h := t.hashFn(key)
	b := t.bucketFor(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && e.key == key {
			e.val = val
			return false
		}
	}
	b.first = &entry[K, V]{key: key, val: val, hash: h, next: b.first}
	return true
}

// Del removes key from the table, a no-op if it isn't present.
func (t *Table[K, V]) Del(key K) {
	h := t.hashFn(key)
	b := t.bucketFor(h)
	b.mu.Lock()
	defer b.mu.Unlock()
	var prev *entry[K, V]
	for e := b.first; e != nil; e = e.next {
		if e.hash == h && e.key == key {
			if prev == nil {
				b.first = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// Size returns the total number of entries across all buckets.
func (t *Table[K, V]) Size() int {
	n := 0
	for _, b := range t.buckets {
		b.mu.RLock()
		for e := b.first; e != nil; e = e.next {
			n++
		}
		b.mu.RUnlock()
	}
	return n
}
