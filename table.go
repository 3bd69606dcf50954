package scalemap

import (
	"math/bits"

	"github.com/pkg/errors"
)

// entry is a single key-value pair. It belongs to exactly one chain; a
// rehash recreates it in the new table rather than relinking it.
type entry[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
	next  *entry[K, V]
}

// bucketTable is an array of chains indexed by hash & (len(slots)-1).
//
// Every entry reachable from slots[i] has hash&mask == i, and len(slots)
// is always a power of two no smaller than MinCapacity.
type bucketTable[K comparable, V any] struct {
	slots []*entry[K, V]
	mask  uint64
	size  int
}

func newBucketTable[K comparable, V any](capacity int) *bucketTable[K, V] {
	capacity = calcCapacity(capacity)
	return &bucketTable[K, V]{
		slots: make([]*entry[K, V], capacity),
		mask:  uint64(capacity - 1),
	}
}

// length returns the number of slots.
func (t *bucketTable[K, V]) length() int {
	return len(t.slots)
}

func (t *bucketTable[K, V]) find(hash uint64, key K) *entry[K, V] {
	for e := t.slots[hash&t.mask]; e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			return e
		}
	}
	return nil
}

// insertOrUpdate stores value under key. If the key was present its value is
// replaced in place and the old value is returned with loaded set.
func (t *bucketTable[K, V]) insertOrUpdate(hash uint64, key K, value V) (previous V, loaded bool) {
	idx := hash & t.mask
	for e := t.slots[idx]; e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			previous, e.value = e.value, value
			return previous, true
		}
	}
	t.slots[idx] = &entry[K, V]{hash: hash, key: key, value: value, next: t.slots[idx]}
	t.size++
	return previous, false
}

func (t *bucketTable[K, V]) removeKey(hash uint64, key K) (previous V, loaded bool) {
	link := &t.slots[hash&t.mask]
	for e := *link; e != nil; link, e = &e.next, e.next {
		if e.hash == hash && e.key == key {
			*link = e.next
			t.size--
			return e.value, true
		}
	}
	return previous, false
}

// rehashInto builds a new table with at least newCapacity slots holding every
// entry of t exactly once. Chain order in the new table is unspecified.
// t itself is left untouched, so a failed or abandoned rehash loses nothing.
func (t *bucketTable[K, V]) rehashInto(newCapacity int) (*bucketTable[K, V], error) {
	if newCapacity < t.size {
		return nil, errors.Wrapf(ErrInvalidCapacity,
			"cannot rehash %d entries into %d slots", t.size, newCapacity)
	}
	nt := newBucketTable[K, V](newCapacity)
	for _, head := range t.slots {
		for e := head; e != nil; e = e.next {
			idx := e.hash & nt.mask
			nt.slots[idx] = &entry[K, V]{hash: e.hash, key: e.key, value: e.value, next: nt.slots[idx]}
		}
	}
	nt.size = t.size
	return nt, nil
}

// rangeEntries calls yield for every entry until it returns false.
func (t *bucketTable[K, V]) rangeEntries(yield func(e *entry[K, V]) bool) bool {
	for _, head := range t.slots {
		for e := head; e != nil; e = e.next {
			if !yield(e) {
				return false
			}
		}
	}
	return true
}

// chainLen returns the number of entries in slot i.
func (t *bucketTable[K, V]) chainLen(i int) int {
	n := 0
	for e := t.slots[i]; e != nil; e = e.next {
		n++
	}
	return n
}

// calcCapacity rounds capacity up to a power of two within
// [MinCapacity, maxCapacity].
func calcCapacity(capacity int) int {
	if capacity <= MinCapacity {
		return MinCapacity
	}
	if capacity >= maxCapacity {
		return maxCapacity
	}
	return nextPowOf2(capacity)
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
