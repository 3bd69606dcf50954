package scalemap

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MapStats is Map and ConcurrentMap statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Capacity is the number of slots in the current table.
	Capacity int
	// Size is the number of entries stored in the map.
	Size int
	// LoadFactor is the configured growth trigger.
	LoadFactor float64
	// Occupancy is Size divided by Capacity.
	Occupancy float64
	// EmptySlots is the number of slots holding no entries.
	EmptySlots int
	// MinChain is the length of the shortest chain.
	MinChain int
	// MaxChain is the length of the longest chain.
	MaxChain int
	// TotalGrowths is the number of times the table grew.
	TotalGrowths uint32
	// TotalShrinks is the number of times the table shrank.
	TotalShrinks uint32
	// RemoveCount is the removal pressure accumulated since the last
	// insertion of a new key or shrink evaluation.
	RemoveCount int
	// RemoveCountThreshold is the configured removal threshold; negative
	// means shrinking is disabled.
	RemoveCountThreshold int
	// RemoveWindow is the configured removal window.
	RemoveWindow time.Duration
}

func newMapStats(capacity, size int, p sizingPolicy) *MapStats {
	return &MapStats{
		Capacity:             capacity,
		Size:                 size,
		LoadFactor:           p.loadFactor,
		Occupancy:            float64(size) / float64(capacity),
		MinChain:             math.MaxInt,
		RemoveCountThreshold: p.removeCountThreshold,
		RemoveWindow:         p.removeWindow,
	}
}

func (s *MapStats) addChain(n int) {
	if n == 0 {
		s.EmptySlots++
	}
	s.MinChain = min(s.MinChain, n)
	s.MaxChain = max(s.MaxChain, n)
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Capacity:             %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:                 %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("LoadFactor:           %.2f\n", s.LoadFactor))
	sb.WriteString(fmt.Sprintf("Occupancy:            %.4f\n", s.Occupancy))
	sb.WriteString(fmt.Sprintf("EmptySlots:           %d\n", s.EmptySlots))
	sb.WriteString(fmt.Sprintf("MinChain:             %d\n", s.MinChain))
	sb.WriteString(fmt.Sprintf("MaxChain:             %d\n", s.MaxChain))
	sb.WriteString(fmt.Sprintf("TotalGrowths:         %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalShrinks:         %d\n", s.TotalShrinks))
	sb.WriteString(fmt.Sprintf("RemoveCount:          %d\n", s.RemoveCount))
	sb.WriteString(fmt.Sprintf("RemoveCountThreshold: %d\n", s.RemoveCountThreshold))
	sb.WriteString(fmt.Sprintf("RemoveWindow:         %s\n", s.RemoveWindow))
	sb.WriteString("}\n")
	return sb.String()
}
