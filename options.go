package scalemap

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// MinCapacity is the smallest number of slots a table ever has.
	MinCapacity = 16
	// DefaultInitialCapacity is the slot count of a map built without
	// WithInitialCapacity or WithPresize.
	DefaultInitialCapacity = 16
	// DefaultLoadFactor is the occupancy above which the table grows.
	DefaultLoadFactor = 0.75
	// maxCapacity bounds table allocation; beyond it the table stops growing
	// and chains absorb the extra entries.
	maxCapacity = 1 << 30
)

// MapConfig defines configurable Map and ConcurrentMap options.
type MapConfig struct {
	initialCapacity      int
	sizeHint             int
	loadFactor           float64
	removeCountThreshold int
	removeWindow         time.Duration
	clock                clockwork.Clock
	logger               zerolog.Logger
	keyHash              any // HashFunc[K], checked against K at init
}

func defaultConfig() MapConfig {
	return MapConfig{
		initialCapacity:      DefaultInitialCapacity,
		loadFactor:           DefaultLoadFactor,
		removeCountThreshold: -1,
		clock:                clockwork.NewRealClock(),
		logger:               zerolog.Nop(),
	}
}

func newConfig(options []func(*MapConfig)) MapConfig {
	cfg := defaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	if !(cfg.loadFactor > 0 && cfg.loadFactor <= 1) {
		cfg.loadFactor = DefaultLoadFactor
	}
	cfg.initialCapacity = calcCapacity(cfg.initialCapacity)
	if cfg.sizeHint > 0 {
		cfg.initialCapacity = max(cfg.initialCapacity, capacityFor(cfg.sizeHint, cfg.loadFactor))
	}
	if cfg.removeWindow < 0 {
		cfg.removeWindow = 0
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	return cfg
}

// WithInitialCapacity sets the number of slots the map starts with.
// The value is rounded up to a power of two; zero or negative values are
// normalized to MinCapacity. Clear returns the map to this capacity.
func WithInitialCapacity(capacity int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.initialCapacity = capacity
	}
}

// WithPresize configures the map with enough slots to hold sizeHint
// entries without growing under the configured load factor. Combined with
// WithInitialCapacity, the larger of the two wins.
// If sizeHint is zero or negative, the value is ignored.
func WithPresize(sizeHint int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.sizeHint = sizeHint
	}
}

// WithLoadFactor sets the growth trigger. Values outside (0, 1] are
// replaced by DefaultLoadFactor.
func WithLoadFactor(loadFactor float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.loadFactor = loadFactor
	}
}

// WithRemovePressure enables shrinking. The map shrinks once more than
// countThreshold removals have happened with no new key inserted in between,
// and at least window has passed since the first of them.
// A negative countThreshold disables shrinking, which is the default.
func WithRemovePressure(countThreshold int, window time.Duration) func(*MapConfig) {
	return func(c *MapConfig) {
		c.removeCountThreshold = countThreshold
		c.removeWindow = window
	}
}

// WithClock replaces the clock used to measure the removal window.
func WithClock(clock clockwork.Clock) func(*MapConfig) {
	return func(c *MapConfig) {
		c.clock = clock
	}
}

// WithLogger sets the logger that receives resize events. Resizes are
// logged at debug level. The default logger discards everything.
func WithLogger(logger zerolog.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// WithKeyHash replaces the default key hash. K must match the key type of
// the map it is passed to, otherwise construction panics.
func WithKeyHash[K comparable](keyHash HashFunc[K]) func(*MapConfig) {
	return func(c *MapConfig) {
		if keyHash != nil {
			c.keyHash = keyHash
		}
	}
}

func resolveKeyHash[K comparable](c *MapConfig) HashFunc[K] {
	if c.keyHash == nil {
		return defaultHasher[K]()
	}
	keyHash, ok := c.keyHash.(HashFunc[K])
	if !ok {
		panic(fmt.Sprintf("scalemap: WithKeyHash got %T, want HashFunc[%T]", c.keyHash, *new(K)))
	}
	return keyHash
}
