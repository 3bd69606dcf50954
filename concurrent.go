package scalemap

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"unsafe"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ConcurrentMap is Map with the same growth and shrink policy, safe for
// concurrent use.
//
// Concurrency model:
//   - Readers (Get, ContainsKey, Range, Size, Capacity, Stats) take one
//     snapshot of the published table and never lock. Chains are immutable
//     once published: a writer replaces a chain head copy-on-write, so a
//     reader walking an old chain sees a consistent, if stale, view.
//   - Writers (Put, Remove, Grow, Shrink, Clear) serialize on a mutex, which
//     also guards the removal pressure.
//   - A resize builds a brand-new table from the current one and publishes
//     it with a compare-and-swap on the table reference. If the reference
//     moved in the meantime, the verdict is re-evaluated and the resize is
//     redone against the latest table.
//
// Size is eventually consistent with readers: a Get or Range may see a new
// entry before Size counts it, or miss a removed one Size still counts.
//
// The zero value is an empty map with default options.
// A ConcurrentMap must not be copied after first use.
type ConcurrentMap[K comparable, V any] struct {
	_ noCopy

	table atomic.Pointer[cowTable[K, V]]

	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(atomic.Pointer[byte]{})%CacheLineSize) % CacheLineSize]byte

	mu           sync.Mutex
	size         atomic.Int64
	totalGrowths atomic.Uint32
	totalShrinks atomic.Uint32
	pressure     pressureTracker
	policy       sizingPolicy
	keyHash      HashFunc[K]
	seed         uint64
	initCapacity int
	clock        clockwork.Clock
	logger       zerolog.Logger
}

// cowTable is the published form of a bucket table. Each slot holds the head
// of an immutable chain.
type cowTable[K comparable, V any] struct {
	slots []atomic.Pointer[entry[K, V]]
	mask  uint64
}

func newCowTable[K comparable, V any](capacity int) *cowTable[K, V] {
	capacity = calcCapacity(capacity)
	return &cowTable[K, V]{
		slots: make([]atomic.Pointer[entry[K, V]], capacity),
		mask:  uint64(capacity - 1),
	}
}

func (t *cowTable[K, V]) length() int {
	return len(t.slots)
}

func (t *cowTable[K, V]) find(hash uint64, key K) *entry[K, V] {
	for e := t.slots[hash&t.mask].Load(); e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			return e
		}
	}
	return nil
}

// rehashInto is bucketTable.rehashInto for published tables. size is the
// live entry count the caller holds for t.
func (t *cowTable[K, V]) rehashInto(newCapacity, size int) (*cowTable[K, V], error) {
	if newCapacity < size {
		return nil, errors.Wrapf(ErrInvalidCapacity,
			"cannot rehash %d entries into %d slots", size, newCapacity)
	}
	nt := newCowTable[K, V](newCapacity)
	for i := range t.slots {
		for e := t.slots[i].Load(); e != nil; e = e.next {
			slot := &nt.slots[e.hash&nt.mask]
			// nt is not published yet.
			slot.Store(&entry[K, V]{hash: e.hash, key: e.key, value: e.value, next: slot.Load()})
		}
	}
	return nt, nil
}

// rebuildChain returns a copy of the chain starting at head in which target
// is replaced by tail. Nodes after target are shared, not copied.
func rebuildChain[K comparable, V any](head, target, tail *entry[K, V]) *entry[K, V] {
	var prefix []*entry[K, V]
	for e := head; e != target; e = e.next {
		prefix = append(prefix, e)
	}
	for i := len(prefix) - 1; i >= 0; i-- {
		p := prefix[i]
		tail = &entry[K, V]{hash: p.hash, key: p.key, value: p.value, next: tail}
	}
	return tail
}

// NewConcurrent creates a ConcurrentMap. It takes the same options as New.
func NewConcurrent[K comparable, V any](options ...func(*MapConfig)) *ConcurrentMap[K, V] {
	m := &ConcurrentMap[K, V]{}
	m.mu.Lock()
	m.initLocked(options)
	m.mu.Unlock()
	return m
}

func (m *ConcurrentMap[K, V]) initLocked(options []func(*MapConfig)) *cowTable[K, V] {
	cfg := newConfig(options)
	m.keyHash = resolveKeyHash[K](&cfg)
	m.seed = rand.Uint64()
	m.policy = sizingPolicy{
		loadFactor:           cfg.loadFactor,
		removeCountThreshold: cfg.removeCountThreshold,
		removeWindow:         cfg.removeWindow,
	}
	m.initCapacity = cfg.initialCapacity
	m.clock = cfg.clock
	m.logger = cfg.logger
	// Everything above must be written before the table is published;
	// readers only touch keyHash and seed after loading a non-nil table.
	t := newCowTable[K, V](m.initCapacity)
	m.table.Store(t)
	return t
}

func (m *ConcurrentMap[K, V]) tableLocked() *cowTable[K, V] {
	if t := m.table.Load(); t != nil {
		return t
	}
	return m.initLocked(nil)
}

func (m *ConcurrentMap[K, V]) snapshot() *cowTable[K, V] {
	if t := m.table.Load(); t != nil {
		return t
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tableLocked()
}

// Get returns the value stored under key.
func (m *ConcurrentMap[K, V]) Get(key K) (value V, ok bool) {
	t := m.table.Load()
	if t == nil {
		return value, false
	}
	if e := t.find(m.keyHash(key, m.seed), key); e != nil {
		return e.value, true
	}
	return value, false
}

// ContainsKey reports whether key is present.
func (m *ConcurrentMap[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put stores value under key and returns the previous value, if any.
func (m *ConcurrentMap[K, V]) Put(key K, value V) (previous V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tableLocked()
	hash := m.keyHash(key, m.seed)
	slot := &t.slots[hash&t.mask]
	head := slot.Load()
	for e := head; e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			slot.Store(rebuildChain(head, e,
				&entry[K, V]{hash: hash, key: key, value: value, next: e.next}))
			return e.value, true
		}
	}
	slot.Store(&entry[K, V]{hash: hash, key: key, value: value, next: head})
	size := int(m.size.Inc())
	m.pressure.onInsertNewKey()
	m.applyLocked(m.policy.decideGrow(size, t.length()))
	return previous, false
}

// Remove deletes key and returns the value it had, if any.
func (m *ConcurrentMap[K, V]) Remove(key K) (previous V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table.Load()
	if t == nil {
		return previous, false
	}
	hash := m.keyHash(key, m.seed)
	slot := &t.slots[hash&t.mask]
	head := slot.Load()
	var target *entry[K, V]
	for e := head; e != nil; e = e.next {
		if e.hash == hash && e.key == key {
			target = e
			break
		}
	}
	if target == nil {
		return previous, false
	}
	slot.Store(rebuildChain(head, target, target.next))
	size := int(m.size.Dec())
	if !m.policy.shrinkEnabled() {
		return target.value, true
	}
	now := m.clock.Now()
	m.pressure.onRemove(now)
	v := m.policy.decideShrink(size, t.length(),
		m.pressure.removeCount, m.pressure.elapsed(now))
	m.applyLocked(v)
	if v.Considered {
		m.pressure.reset()
	}
	return target.value, true
}

// Size returns the number of entries.
func (m *ConcurrentMap[K, V]) Size() int {
	return int(m.size.Load())
}

// Capacity returns the number of slots in the published table.
func (m *ConcurrentMap[K, V]) Capacity() int {
	return m.snapshot().length()
}

// Grow makes room for sizeHint entries without further growth.
// Zero or negative hints are ignored.
func (m *ConcurrentMap[K, V]) Grow(sizeHint int) {
	if sizeHint <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tableLocked()
	target := capacityFor(max(sizeHint, m.Size()), m.policy.loadFactor)
	if target > t.length() {
		m.applyLocked(Verdict{Kind: Grow, Capacity: target})
	}
}

// Shrink evaluates a shrink right away, ignoring the removal window and
// whether shrinking is enabled, and resets the removal pressure.
func (m *ConcurrentMap[K, V]) Shrink() {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tableLocked()
	m.applyLocked(m.policy.shrinkTarget(m.Size(), t.length()))
	m.pressure.reset()
}

// Clear removes all entries and returns the table to its initial capacity.
func (m *ConcurrentMap[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table.Load() == nil {
		return
	}
	m.table.Store(newCowTable[K, V](m.initCapacity))
	m.size.Store(0)
	m.pressure.reset()
}

// testHookBeforePublish, when set, runs between building a resized table
// and publishing it.
var testHookBeforePublish func()

// applyLocked carries out a verdict, publishing the rebuilt table. When the
// published table moved underneath the rebuild, the verdict is reconsidered
// against the latest table and the rebuild is redone.
func (m *ConcurrentMap[K, V]) applyLocked(v Verdict) {
	for v.Kind != Hold {
		if m.publishLocked(v) {
			return
		}
		v = m.policy.reconsider(v, m.Size(), m.table.Load().length())
	}
	if v.Considered {
		logShrinkHold(&m.logger, m.Size(), m.table.Load().length())
	}
}

// publishLocked rebuilds the current table for v and swaps it in. It reports
// false only when the compare-and-swap lost; a rejected rehash is logged and
// counts as done.
func (m *ConcurrentMap[K, V]) publishLocked(v Verdict) bool {
	old := m.table.Load()
	size := m.Size()
	nt, err := old.rehashInto(v.Capacity, size)
	if err != nil {
		logRehashError(&m.logger, err, v, old.length(), size)
		return true
	}
	if testHookBeforePublish != nil {
		testHookBeforePublish()
	}
	if !m.table.CompareAndSwap(old, nt) {
		return false
	}
	if v.Kind == Grow {
		m.totalGrowths.Inc()
	} else {
		m.totalShrinks.Inc()
	}
	logResize(&m.logger, v.Kind, old.length(), nt.length(), size)
	return true
}

// Range calls yield for each entry of one table snapshot until yield
// returns false. Writes made during the iteration may or may not be seen.
func (m *ConcurrentMap[K, V]) Range(yield func(key K, value V) bool) {
	t := m.table.Load()
	if t == nil {
		return
	}
	for i := range t.slots {
		for e := t.slots[i].Load(); e != nil; e = e.next {
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// All is the iterator version of Range.
func (m *ConcurrentMap[K, V]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Keys iterates over all keys.
func (m *ConcurrentMap[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values iterates over all values.
func (m *ConcurrentMap[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// ToMap collect all entries and return a map[K]V
func (m *ConcurrentMap[K, V]) ToMap() map[K]V {
	return m.ToMapWithLimit(-1)
}

// ToMapWithLimit collect up to limit entries into a map[K]V, limit < 0 is no limit
func (m *ConcurrentMap[K, V]) ToMapWithLimit(limit int) map[K]V {
	if limit == 0 {
		return map[K]V{}
	}
	if limit < 0 {
		limit = math.MaxInt
	}
	a := make(map[K]V, min(m.Size(), limit))
	m.Range(func(key K, value V) bool {
		a[key] = value
		limit--
		return limit > 0
	})
	return a
}

// FromMap stores every entry of source, growing once up front.
func (m *ConcurrentMap[K, V]) FromMap(source map[K]V) {
	if len(source) == 0 {
		return
	}
	m.Grow(m.Size() + len(source))
	for k, v := range source {
		m.Put(k, v)
	}
}

// Clone returns a copy with the same options, contents, capacity and
// removal pressure. Resize counters start from zero.
func (m *ConcurrentMap[K, V]) Clone() *ConcurrentMap[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tableLocked()
	size := m.Size()
	c := &ConcurrentMap[K, V]{
		pressure:     m.pressure,
		policy:       m.policy,
		keyHash:      m.keyHash,
		seed:         m.seed,
		initCapacity: m.initCapacity,
		clock:        m.clock,
		logger:       m.logger,
	}
	c.size.Store(int64(size))
	nt, err := t.rehashInto(max(t.length(), size), size)
	if err != nil {
		panic(err)
	}
	c.table.Store(nt)
	return c
}

// Stats returns diagnostic statistics for one table snapshot. It walks every
// chain, so it is an O(capacity + size) operation.
func (m *ConcurrentMap[K, V]) Stats() *MapStats {
	t := m.snapshot()
	stats := newMapStats(t.length(), m.Size(), m.policy)
	for i := range t.slots {
		n := 0
		for e := t.slots[i].Load(); e != nil; e = e.next {
			n++
		}
		stats.addChain(n)
	}
	stats.TotalGrowths = m.totalGrowths.Load()
	stats.TotalShrinks = m.totalShrinks.Load()
	m.mu.Lock()
	stats.RemoveCount = m.pressure.removeCount
	m.mu.Unlock()
	return stats
}

// String implement the formatting output interface fmt.Stringer
func (m *ConcurrentMap[K, V]) String() string {
	const limit = 1024
	return strings.Replace(fmt.Sprint(m.ToMapWithLimit(limit)), "map[", "ConcurrentMap[", 1)
}
