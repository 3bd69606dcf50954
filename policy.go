package scalemap

import (
	"math"
	"time"
)

// VerdictKind is the outcome of a sizing decision.
type VerdictKind int

const (
	// Hold keeps the current table.
	Hold VerdictKind = iota
	// Grow replaces the table with a larger one.
	Grow
	// Shrink replaces the table with a smaller one.
	Shrink
)

func (k VerdictKind) String() string {
	switch k {
	case Hold:
		return "hold"
	case Grow:
		return "grow"
	case Shrink:
		return "shrink"
	default:
		return "unknown"
	}
}

// Verdict is what the sizing policy decided for one mutation.
//
// Considered is set whenever the removal pressure was high enough and old
// enough for a shrink to be evaluated, including the case where the
// evaluation found nothing to gain and returned Hold. The caller resets the
// pressure tracker whenever Considered is set.
type Verdict struct {
	Kind       VerdictKind
	Capacity   int
	Considered bool
}

// sizingPolicy holds the configuration the decisions are made against.
// It carries no state of its own.
type sizingPolicy struct {
	loadFactor           float64
	removeCountThreshold int
	removeWindow         time.Duration
}

// shrinkEnabled reports whether removal pressure is tracked at all.
func (p sizingPolicy) shrinkEnabled() bool {
	return p.removeCountThreshold >= 0
}

// overloaded reports whether size entries exceed the load factor of capacity.
func (p sizingPolicy) overloaded(size, capacity int) bool {
	return float64(size) > float64(capacity)*p.loadFactor
}

// decideGrow runs after an insertion.
func (p sizingPolicy) decideGrow(size, capacity int) Verdict {
	if !p.overloaded(size, capacity) || capacity >= maxCapacity {
		return Verdict{Kind: Hold, Capacity: capacity}
	}
	target := capacity << 1
	for target < maxCapacity && p.overloaded(size, target) {
		target <<= 1
	}
	return Verdict{Kind: Grow, Capacity: target}
}

// decideShrink runs after a removal. removeCount and elapsed describe the
// removal pressure after the removal has been recorded.
func (p sizingPolicy) decideShrink(size, capacity, removeCount int, elapsed time.Duration) Verdict {
	if !p.shrinkEnabled() ||
		removeCount <= p.removeCountThreshold ||
		elapsed < p.removeWindow {
		return Verdict{Kind: Hold, Capacity: capacity}
	}
	return p.shrinkTarget(size, capacity)
}

// shrinkTarget evaluates a shrink unconditionally.
func (p sizingPolicy) shrinkTarget(size, capacity int) Verdict {
	target := capacityFor(size, p.loadFactor)
	if target >= capacity {
		return Verdict{Kind: Hold, Capacity: capacity, Considered: true}
	}
	return Verdict{Kind: Shrink, Capacity: target, Considered: true}
}

// reconsider re-evaluates a Grow or Shrink verdict against a table that
// changed after v was decided. A Grow that the table already satisfies turns
// into Hold; otherwise it keeps its target, raised if needed to fit size. A
// Shrink is recomputed from size.
func (p sizingPolicy) reconsider(v Verdict, size, capacity int) Verdict {
	switch v.Kind {
	case Grow:
		target := max(v.Capacity, capacityFor(size, p.loadFactor))
		if target <= capacity {
			return Verdict{Kind: Hold, Capacity: capacity}
		}
		return Verdict{Kind: Grow, Capacity: target}
	case Shrink:
		return p.shrinkTarget(size, capacity)
	default:
		return v
	}
}

// capacityFor returns the smallest power of two no smaller than MinCapacity
// that holds size entries within loadFactor.
func capacityFor(size int, loadFactor float64) int {
	c := calcCapacity(int(math.Ceil(float64(size) / loadFactor)))
	for c < maxCapacity && float64(size) > float64(c)*loadFactor {
		c <<= 1
	}
	// Undo a rounding overshoot of the division above.
	for c > MinCapacity && float64(size) <= float64(c>>1)*loadFactor {
		c >>= 1
	}
	return c
}
