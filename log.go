package scalemap

import (
	"github.com/rs/zerolog"
)

func logResize(logger *zerolog.Logger, kind VerdictKind, from, to, size int) {
	logger.Debug().
		Str("event", kind.String()).
		Int("from", from).
		Int("to", to).
		Int("size", size).
		Msg("table resized")
}

func logShrinkHold(logger *zerolog.Logger, size, capacity int) {
	logger.Debug().
		Str("event", "shrink_hold").
		Int("capacity", capacity).
		Int("size", size).
		Msg("shrink evaluated, table already minimal")
}

func logRehashError(logger *zerolog.Logger, err error, v Verdict, from, size int) {
	logger.Error().
		Err(err).
		Str("event", v.Kind.String()).
		Int("from", from).
		Int("to", v.Capacity).
		Int("size", size).
		Msg("rehash rejected, keeping current table")
}
