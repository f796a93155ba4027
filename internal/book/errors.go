package book

import "errors"

// Error kinds from spec.md §6/§7. These are values, not exceptions: callers
// branch on errors.Is.
var (
	// ErrSequenceGap is returned when a delta's range does not cover
	// last_sequence+1 and cannot be explained by a duplicate/stale update.
	// It is fatal for the book: the caller must re-snapshot.
	ErrSequenceGap = errors.New("order book: sequence gap detected")

	// ErrStaleSequence marks a delta/snapshot that is at or behind the
	// book's last observed sequence; the caller drops it silently, this
	// value exists for observability/logging only.
	ErrStaleSequence = errors.New("order book: stale sequence, dropped")

	// ErrInvalidLevel marks a delta missing both a price and an entry id,
	// or a level with non-positive price, or a size that quantizes
	// negative: structurally bad input, not a gap or staleness.
	ErrInvalidLevel = errors.New("order book: invalid level")

	// ErrDeltasNotSupported surfaces a venue policy rejection (spec.md §6).
	ErrDeltasNotSupported = errors.New("order book: deltas not supported by exchange")

	// ErrSequenceNotSupported surfaces a venue policy rejection (spec.md §6).
	ErrSequenceNotSupported = errors.New("order book: sequence not supported by exchange")

	// ErrScenarioNotSupported surfaces a venue policy rejection (spec.md §6).
	ErrScenarioNotSupported = errors.New("order book: scenario not supported by exchange")
)
