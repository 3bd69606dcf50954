package scalemap

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Map is a hash map that grows like a conventional chained hash table and
// also gives memory back: when removals dominate for long enough, the table
// is rehashed into the smallest capacity that still honors the load factor
// for the entries that remain.
//
// Growth happens on insertion of a new key once size exceeds
// capacity*loadFactor; the table at least doubles. Shrinking is opt-in via
// WithRemovePressure and is only evaluated on removal:
//
//   - every removal bumps a removal counter, and the first removal after a
//     reset opens a time window;
//   - inserting a new key resets the counter and closes the window;
//   - once the counter exceeds the threshold and the window has been open
//     for at least the configured duration, the table is shrunk to fit the
//     live size, and the counter is reset whether or not the table changed.
//
// The shrink target honors the load factor on the live size, so a shrink
// never leaves the table in a state where the same size would make it grow.
//
// Map is not safe for concurrent use; see ConcurrentMap. The zero value is
// an empty map with default options. A Map must not be copied after first
// use.
type Map[K comparable, V any] struct {
	_ noCopy

	table        *bucketTable[K, V]
	pressure     pressureTracker
	policy       sizingPolicy
	keyHash      HashFunc[K]
	seed         uint64
	initCapacity int
	clock        clockwork.Clock
	logger       zerolog.Logger
	totalGrowths uint32
	totalShrinks uint32
}

// New creates a Map.
//
// Parameters:
//   - WithInitialCapacity or WithPresize for the initial table size
//   - WithLoadFactor for the growth trigger
//   - WithRemovePressure to enable shrinking
//   - WithClock, WithLogger and WithKeyHash for the collaborators
func New[K comparable, V any](options ...func(*MapConfig)) *Map[K, V] {
	m := &Map[K, V]{}
	m.init(options)
	return m
}

func (m *Map[K, V]) init(options []func(*MapConfig)) {
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
	m.table = newBucketTable[K, V](m.initCapacity)
}

func (m *Map[K, V]) ensureInit() *bucketTable[K, V] {
	if m.table == nil {
		m.init(nil)
	}
	return m.table
}

// Get returns the value stored under key. It never changes the map.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if m.table == nil {
		return value, false
	}
	if e := m.table.find(m.keyHash(key, m.seed), key); e != nil {
		return e.value, true
	}
	return value, false
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put stores value under key and returns the previous value, if any.
// Inserting a new key resets the removal pressure and may grow the table.
func (m *Map[K, V]) Put(key K, value V) (previous V, loaded bool) {
	table := m.ensureInit()
	previous, loaded = table.insertOrUpdate(m.keyHash(key, m.seed), key, value)
	if loaded {
		return previous, true
	}
	m.pressure.onInsertNewKey()
	m.apply(m.policy.decideGrow(table.size, table.length()))
	return previous, false
}

// Remove deletes key and returns the value it had, if any.
// Removing a present key counts towards the removal pressure and may
// shrink the table.
func (m *Map[K, V]) Remove(key K) (previous V, loaded bool) {
	if m.table == nil {
		return previous, false
	}
	previous, loaded = m.table.removeKey(m.keyHash(key, m.seed), key)
	if !loaded || !m.policy.shrinkEnabled() {
		return previous, loaded
	}
	now := m.clock.Now()
	m.pressure.onRemove(now)
	v := m.policy.decideShrink(m.table.size, m.table.length(),
		m.pressure.removeCount, m.pressure.elapsed(now))
	m.apply(v)
	if v.Considered {
		m.pressure.reset()
	}
	return previous, true
}

// Size returns the number of entries.
func (m *Map[K, V]) Size() int {
	if m.table == nil {
		return 0
	}
	return m.table.size
}

// Capacity returns the number of slots in the current table.
func (m *Map[K, V]) Capacity() int {
	return m.ensureInit().length()
}

// Grow makes room for sizeHint entries without further growth.
// Zero or negative hints are ignored.
func (m *Map[K, V]) Grow(sizeHint int) {
	if sizeHint <= 0 {
		return
	}
	table := m.ensureInit()
	target := capacityFor(max(sizeHint, table.size), m.policy.loadFactor)
	if target > table.length() {
		m.apply(Verdict{Kind: Grow, Capacity: target})
	}
}

// Shrink evaluates a shrink right away, ignoring the removal window and
// whether shrinking is enabled, and resets the removal pressure.
func (m *Map[K, V]) Shrink() {
	table := m.ensureInit()
	m.apply(m.policy.shrinkTarget(table.size, table.length()))
	m.pressure.reset()
}

// Clear removes all entries and returns the table to its initial capacity.
func (m *Map[K, V]) Clear() {
	if m.table == nil {
		return
	}
	m.table = newBucketTable[K, V](m.initCapacity)
	m.pressure.reset()
}

// apply carries out a verdict. A rejected rehash leaves the current table in
// place.
func (m *Map[K, V]) apply(v Verdict) {
	if v.Kind == Hold {
		if v.Considered {
			logShrinkHold(&m.logger, m.table.size, m.table.length())
		}
		return
	}
	from := m.table.length()
	nt, err := m.table.rehashInto(v.Capacity)
	if err != nil {
		logRehashError(&m.logger, err, v, from, m.table.size)
		return
	}
	m.table = nt
	if v.Kind == Grow {
		m.totalGrowths++
	} else {
		m.totalShrinks++
	}
	logResize(&m.logger, v.Kind, from, nt.length(), nt.size)
}

// Range calls yield for each entry until yield returns false.
// Entries removed during the iteration may or may not be visited, and a
// resize triggered by yield does not affect the iteration in progress.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	if m.table == nil {
		return
	}
	m.table.rangeEntries(func(e *entry[K, V]) bool {
		return yield(e.key, e.value)
	})
}

// All is the iterator version of Range.
func (m *Map[K, V]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Keys iterates over all keys.
func (m *Map[K, V]) Keys() func(yield func(K) bool) {
	return func(yield func(K) bool) {
		m.Range(func(key K, _ V) bool {
			return yield(key)
		})
	}
}

// Values iterates over all values.
func (m *Map[K, V]) Values() func(yield func(V) bool) {
	return func(yield func(V) bool) {
		m.Range(func(_ K, value V) bool {
			return yield(value)
		})
	}
}

// ToMap collect all entries and return a map[K]V
func (m *Map[K, V]) ToMap() map[K]V {
	return m.ToMapWithLimit(-1)
}

// ToMapWithLimit collect up to limit entries into a map[K]V, limit < 0 is no limit
func (m *Map[K, V]) ToMapWithLimit(limit int) map[K]V {
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
func (m *Map[K, V]) FromMap(source map[K]V) {
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
func (m *Map[K, V]) Clone() *Map[K, V] {
	table := m.ensureInit()
	c := &Map[K, V]{
		pressure:     m.pressure,
		policy:       m.policy,
		keyHash:      m.keyHash,
		seed:         m.seed,
		initCapacity: m.initCapacity,
		clock:        m.clock,
		logger:       m.logger,
	}
	nt, err := table.rehashInto(max(table.length(), table.size))
	if err != nil {
		// At least size slots were requested, so this is a broken invariant.
		panic(err)
	}
	c.table = nt
	return c
}

// Stats returns diagnostic statistics. It walks every chain, so it is an
// O(capacity + size) operation.
func (m *Map[K, V]) Stats() *MapStats {
	table := m.ensureInit()
	stats := newMapStats(table.length(), table.size, m.policy)
	for i := range table.slots {
		stats.addChain(table.chainLen(i))
	}
	stats.TotalGrowths = m.totalGrowths
	stats.TotalShrinks = m.totalShrinks
	stats.RemoveCount = m.pressure.removeCount
	return stats
}

// String implement the formatting output interface fmt.Stringer
func (m *Map[K, V]) String() string {
	const limit = 1024
	return strings.Replace(fmt.Sprint(m.ToMapWithLimit(limit)), "map[", "Map[", 1)
}

// noCopy may be added to structs which must not be copied
// after the first use. See go vet's copylocks checker.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
