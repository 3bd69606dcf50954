package scalemap

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConcurrentMap_BasicOperations(t *testing.T) {
	m := NewConcurrent[int, int]()
	expectMissing(t, 1, 0)(m.Get(1))
	m.Put(1, 42)
	expectPresent(t, 1, 42)(m.Get(1))
	prev, loaded := m.Put(1, 43)
	if !loaded || prev != 42 {
		t.Fatalf("Put over existing key: got %v %v", prev, loaded)
	}
	expectPresent(t, 1, 43)(m.Get(1))
	prev, loaded = m.Remove(1)
	if !loaded || prev != 43 {
		t.Fatalf("Remove: got %v %v", prev, loaded)
	}
	expectMissing(t, 1, 0)(m.Get(1))
	if _, loaded := m.Remove(1); loaded {
		t.Fatal("second Remove must not load")
	}
}

func TestConcurrentMap_ZeroValueValidity(t *testing.T) {
	var m ConcurrentMap[string, int]
	expectMissing(t, "foo", 0)(m.Get("foo"))
	if _, loaded := m.Remove("foo"); loaded {
		t.Fatal("remove on zero map should not load")
	}
	m.Put("foo", 1)
	expectPresent(t, "foo", 1)(m.Get("foo"))
	if m.Capacity() != DefaultInitialCapacity || m.Size() != 1 {
		t.Fatalf("capacity %d size %d", m.Capacity(), m.Size())
	}
}

func TestConcurrentMap_ChainCopyOnWrite(t *testing.T) {
	m := NewConcurrent[int, int](WithKeyHash[int](func(int, uint64) uint64 { return 0 }))
	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	before := m.table.Load()
	head := before.slots[0].Load()
	m.Put(5, 500)
	m.Remove(7)

	// The chain a reader loaded earlier is unchanged.
	seen := make(map[int]int)
	for e := head; e != nil; e = e.next {
		seen[e.key] = e.value
	}
	require.Len(t, seen, 10)
	require.Equal(t, 5, seen[5])

	expectPresent(t, 5, 500)(m.Get(5))
	expectMissing(t, 7, 0)(m.Get(7))
	require.Equal(t, 9, m.Size())
}

func TestConcurrentMap_GrowsAndShrinks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewConcurrent[string, int](WithRemovePressure(5, time.Second), WithClock(clock))
	for i, k := range testDataLarge {
		m.Put(k, i)
	}
	require.Equal(t, 16384, m.Capacity())
	require.EqualValues(t, 10, m.Stats().TotalGrowths)

	for i := 0; i < 6; i++ {
		m.Remove(testDataLarge[i])
	}
	require.Equal(t, 16384, m.Capacity(), "window still open")
	clock.Advance(time.Second)
	m.Remove(testDataLarge[6])
	require.Equal(t, 16384, m.Capacity(), "9993 entries still need 16384 slots")
	require.Equal(t, 0, m.Stats().RemoveCount)

	for i := 7; i < 9989; i++ {
		m.Remove(testDataLarge[i])
		clock.Advance(time.Second)
	}
	// The last evaluation ran at 15 live entries, which need 32 slots.
	stats := m.Stats()
	require.Equal(t, 11, stats.Size)
	require.Equal(t, 32, stats.Capacity)
	require.NotZero(t, stats.TotalShrinks)
	m.Shrink()
	require.Equal(t, MinCapacity, m.Capacity())
	for i := 9989; i < 10000; i++ {
		expectPresent(t, testDataLarge[i], i)(m.Get(testDataLarge[i]))
	}
}

func TestConcurrentMap_ExplicitGrowShrinkClear(t *testing.T) {
	m := NewConcurrent[int, int]()
	m.Grow(-1)
	require.Equal(t, MinCapacity, m.Capacity())
	m.Grow(1000)
	require.Equal(t, 2048, m.Capacity())
	for i := 0; i < 10; i++ {
		m.Put(i, i)
	}
	m.Shrink()
	require.Equal(t, MinCapacity, m.Capacity())
	require.EqualValues(t, 1, m.Stats().TotalShrinks)
	for i := 0; i < 10; i++ {
		expectPresent(t, i, i)(m.Get(i))
	}
	m.Clear()
	require.Equal(t, 0, m.Size())
	require.Equal(t, MinCapacity, m.Capacity())
	expectMissing(t, 1, 0)(m.Get(1))
}

func TestConcurrentMap_CloneAndConversions(t *testing.T) {
	m := NewConcurrent[int, string]()
	src := make(map[int]string)
	for i := 0; i < 300; i++ {
		src[i] = strconv.Itoa(i)
	}
	m.FromMap(src)
	require.Equal(t, src, m.ToMap())
	require.Len(t, m.ToMapWithLimit(5), 5)

	c := m.Clone()
	require.Equal(t, m.Capacity(), c.Capacity())
	require.Equal(t, src, c.ToMap())
	c.Put(0, "changed")
	expectPresent(t, 0, "0")(m.Get(0))

	keys := 0
	for range m.Keys() {
		keys++
	}
	values := 0
	for range m.Values() {
		values++
	}
	require.Equal(t, 300, keys)
	require.Equal(t, 300, values)

	s := NewConcurrent[string, int]()
	s.Put("a", 1)
	require.Equal(t, "ConcurrentMap[a:1]", s.String())
}

func TestConcurrentMap_JSON(t *testing.T) {
	m := NewConcurrent[string, int]()
	m.Put("a", 1)
	m.Put("b", 2)
	data, err := m.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":2}`, string(data))

	var back ConcurrentMap[string, int]
	require.NoError(t, back.UnmarshalJSON(data))
	require.Equal(t, map[string]int{"a": 1, "b": 2}, back.ToMap())
}

func TestConcurrentMap_ReadersDuringResizes(t *testing.T) {
	const stable = 100
	m := NewConcurrent[int, int](WithRemovePressure(10, 0))
	for i := 0; i < stable; i++ {
		m.Put(i, i)
	}

	var stop atomic.Bool
	var failures atomic.Int64
	var wg sync.WaitGroup
	readers := max(2, runtime.GOMAXPROCS(0))
	wg.Add(readers)
	for r := 0; r < readers; r++ {
		go func() {
			defer wg.Done()
			for !stop.Load() {
				for i := 0; i < stable; i++ {
					if v, ok := m.Get(i); !ok || v != i {
						failures.Add(1)
					}
				}
				n := 0
				m.Range(func(int, int) bool {
					n++
					return true
				})
				if n < stable {
					failures.Add(1)
				}
			}
		}()
	}

	// Writers grow the map well past the stable keys, then drain it.
	for round := 0; round < 20; round++ {
		for i := 1000; i < 5000; i++ {
			m.Put(i, i)
		}
		for i := 1000; i < 5000; i++ {
			m.Remove(i)
		}
	}
	stop.Store(true)
	wg.Wait()

	require.Zero(t, failures.Load())
	require.Equal(t, stable, m.Size())
	stats := m.Stats()
	require.NotZero(t, stats.TotalGrowths)
	require.NotZero(t, stats.TotalShrinks)
	checkCapacity(t, stats.Capacity)
}

func TestConcurrentMap_ParallelWriters(t *testing.T) {
	m := NewConcurrent[string, int](WithRemovePressure(50, 0))
	var wg sync.WaitGroup
	n := max(2, runtime.GOMAXPROCS(0))
	wg.Add(n)
	for g := 0; g < n; g++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				m.Put(strconv.Itoa(base*10000+i), i)
			}
			for i := 0; i < 1000; i++ {
				m.Remove(strconv.Itoa(base*10000 + i))
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, n*1000, m.Size())
	for g := 0; g < n; g++ {
		for i := 1000; i < 2000; i++ {
			expectPresent(t, strconv.Itoa(g*10000+i), i)(m.Get(strconv.Itoa(g*10000 + i)))
		}
	}
	stats := m.Stats()
	require.LessOrEqual(t, float64(stats.Size), float64(stats.Capacity)*DefaultLoadFactor)
}

func storeCowEntry(m *ConcurrentMap[int, int], table *cowTable[int, int], key int) {
	hash := m.keyHash(key, m.seed)
	slot := &table.slots[hash&table.mask]
	slot.Store(&entry[int, int]{hash: hash, key: key, value: key, next: slot.Load()})
}

func TestConcurrentMap_GrowRetriesAgainstLatestTable(t *testing.T) {
	m := NewConcurrent[int, int]()
	for i := 0; i < 12; i++ {
		m.Put(i, i)
	}
	require.Equal(t, 16, m.Capacity())

	calls := 0
	testHookBeforePublish = func() {
		calls++
		if calls > 1 {
			return
		}
		// A different table holding one more entry is published first.
		old := m.table.Load()
		latest, err := old.rehashInto(old.length(), m.Size())
		require.NoError(t, err)
		storeCowEntry(m, latest, 1000)
		m.size.Inc()
		m.table.Store(latest)
	}
	t.Cleanup(func() { testHookBeforePublish = nil })

	m.Put(12, 12)
	require.Equal(t, 2, calls)
	require.Equal(t, 32, m.Capacity())
	require.Equal(t, 14, m.Size())
	require.EqualValues(t, 1, m.Stats().TotalGrowths)
	for i := 0; i <= 12; i++ {
		expectPresent(t, i, i)(m.Get(i))
	}
	expectPresent(t, 1000, 1000)(m.Get(1000))
}

func TestConcurrentMap_ShrinkRetryRecomputesTarget(t *testing.T) {
	m := NewConcurrent[int, int]()
	for i := 0; i < 40; i++ {
		m.Put(i, i)
	}
	m.Grow(1000)
	require.Equal(t, 2048, m.Capacity())

	calls := 0
	testHookBeforePublish = func() {
		calls++
		if calls > 1 {
			return
		}
		// The latest table only kept ten entries.
		latest := newCowTable[int, int](m.table.Load().length())
		for i := 0; i < 10; i++ {
			storeCowEntry(m, latest, i)
		}
		m.size.Store(10)
		m.table.Store(latest)
	}
	t.Cleanup(func() { testHookBeforePublish = nil })

	m.Shrink()
	require.Equal(t, 2, calls)
	require.Equal(t, MinCapacity, m.Capacity(), "target follows the latest size, not 40")
	require.Equal(t, 10, m.Size())
	require.EqualValues(t, 1, m.Stats().TotalShrinks)
	for i := 0; i < 10; i++ {
		expectPresent(t, i, i)(m.Get(i))
	}
	expectMissing(t, 20, 0)(m.Get(20))
}

func TestConcurrentMap_RejectedRehashKeepsTable(t *testing.T) {
	var buf bytes.Buffer
	m := NewConcurrent[int, int](WithLogger(zerolog.New(&buf)))
	for i := 0; i < 40; i++ {
		m.Put(i, i)
	}
	require.Equal(t, 64, m.Capacity())
	buf.Reset()

	m.mu.Lock()
	m.applyLocked(Verdict{Kind: Shrink, Capacity: 8})
	m.mu.Unlock()

	require.Equal(t, 64, m.Capacity())
	require.Equal(t, 40, m.Size())
	require.Zero(t, m.Stats().TotalShrinks)
	for i := 0; i < 40; i++ {
		expectPresent(t, i, i)(m.Get(i))
	}
	require.Contains(t, buf.String(), `"level":"error"`)
	require.Contains(t, buf.String(), ErrInvalidCapacity.Error())
	require.Contains(t, buf.String(), "40 entries into 8 slots")
}
