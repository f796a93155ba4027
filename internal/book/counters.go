package book

import (
	"math"
	"sync/atomic"
)

// LevelCounters is an atomic snapshot of level add/update/delete activity
// since the last apply_snapshot reset (spec.md §3 "level-change counters").
type LevelCounters struct {
	Added   int64
	Updated int64
	Deleted int64
}

// VolumeCounters is an atomic snapshot of scaled-size volume moved by adds
// and deletes. Values are scaled by 10^SizeDP exactly as stored levels are,
// so the caller unscales once on read instead of accumulating float error
// across millions of updates (spec.md §4.2 "Volume accounting").
//
// UpdatedVolume deliberately does not exist: the source this spec was
// distilled from declares an "updated volume" counter but never adds to it
// (spec.md §9 Open Questions); this type carries only the two counters that
// are actually accumulated.
type VolumeCounters struct {
	Added   uint64
	Deleted uint64
}

type counters struct {
	added   int64
	updated int64
	deleted int64

	addedVolume   uint64
	deletedVolume uint64
}

func (c *counters) reset() {
	atomic.StoreInt64(&c.added, 0)
	atomic.StoreInt64(&c.updated, 0)
	atomic.StoreInt64(&c.deleted, 0)
	atomic.StoreUint64(&c.addedVolume, 0)
	atomic.StoreUint64(&c.deletedVolume, 0)
}

func (c *counters) onAdd()    { atomic.AddInt64(&c.added, 1) }
func (c *counters) onUpdate() { atomic.AddInt64(&c.updated, 1) }
func (c *counters) onDelete() { atomic.AddInt64(&c.deleted, 1) }

func (c *counters) addVolume(scaled uint64)   { atomic.AddUint64(&c.addedVolume, scaled) }
func (c *counters) deleteVolume(scaled uint64) { atomic.AddUint64(&c.deletedVolume, scaled) }

func (c *counters) snapshot() LevelCounters {
	return LevelCounters{
		Added:   atomic.LoadInt64(&c.added),
		Updated: atomic.LoadInt64(&c.updated),
		Deleted: atomic.LoadInt64(&c.deleted),
	}
}

func (c *counters) volumeSnapshot() VolumeCounters {
	return VolumeCounters{
		Added:   atomic.LoadUint64(&c.addedVolume),
		Deleted: atomic.LoadUint64(&c.deletedVolume),
	}
}

// scaleSize rounds size (already in the level's integer scale, i.e. the
// caller has already multiplied by 10^SizeDP and rounded) into the unsigned
// delta used by volume counters. Negative deltas from a shrinking update are
// handled by the caller choosing added vs deleted; this just guards the
// sign.
func scaleSize(delta int64) uint64 {
	if delta < 0 {
		delta = -delta
	}
	return uint64(delta)
}

// quantize rounds a raw size to the level's integer scale and reports
// whether it rounds to zero (spec.md §3 "Size quantization").
func quantize(size float64, dp uint8) (scaled int64, isZero bool) {
	scale := math.Pow10(int(dp))
	scaled = int64(math.Round(size * scale))
	return scaled, scaled == 0
}
