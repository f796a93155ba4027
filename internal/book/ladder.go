// Package book implements the per-symbol limit order book engine: the
// sorted price ladder (spec.md C1) and the OrderBook that applies
// snapshots/deltas over it under sequence-gap detection (spec.md C2).
package book

import "github.com/quantedge/mdcore/internal/pool"

// Comparator orders two prices for a ladder side: negative if a sorts before
// b, positive if after, zero if equal. Bids compare descending, asks
// ascending; both are injected so Ladder itself stays side-agnostic.
type Comparator func(a, b int64) int

func bidLess(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func askLess(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Ladder is a sorted sequence of price levels for one side of one book.
// Depth is bounded (typically <=100), so every operation here is a linear
// scan over a backing slice: at this size a scan beats a balanced tree on
// cache behavior and removes rebalancing variance from the hot path
// (spec.md §4.1).
type Ladder struct {
	levels []*pool.BookLevel
	cmp    Comparator
}

// NewLadder creates an empty Ladder using cmp to order prices.
func NewLadder(cmp Comparator) *Ladder {
	return &Ladder{cmp: cmp}
}

// Len returns the number of levels currently held.
func (l *Ladder) Len() int { return len(l.levels) }

// At returns the level at index i, or nil if out of range.
func (l *Ladder) At(i int) *pool.BookLevel {
	if i < 0 || i >= len(l.levels) {
		return nil
	}
	return l.levels[i]
}

// View returns a read-only borrow over the current backing storage. It is
// valid only while the caller holds the book's lock; a consumer that needs
// the data past that point must copy it (spec.md §4.1).
func (l *Ladder) View() []*pool.BookLevel {
	return l.levels
}

// FindByPrice returns the index of the level at price, or -1.
func (l *Ladder) FindByPrice(price int64) int {
	for i, lvl := range l.levels {
		if lvl.Price == price {
			return i
		}
	}
	return -1
}

// FindByEntryID returns the index of the level with the given entry id, or
// -1. Empty entryID never matches.
func (l *Ladder) FindByEntryID(entryID string) int {
	if entryID == "" {
		return -1
	}
	for i, lvl := range l.levels {
		if lvl.EntryID == entryID {
			return i
		}
	}
	return -1
}

// insertIndex returns the index at which price would be inserted to keep
// levels sorted, stable for equal keys (a level already at that price is
// never pushed past peers with the same price).
func (l *Ladder) insertIndex(price int64) int {
	for i, lvl := range l.levels {
		if l.cmp(price, lvl.Price) < 0 {
			return i
		}
	}
	return len(l.levels)
}

// Add inserts lvl in sorted position.
func (l *Ladder) Add(lvl *pool.BookLevel) {
	idx := l.insertIndex(lvl.Price)
	l.levels = append(l.levels, nil)
	copy(l.levels[idx+1:], l.levels[idx:])
	l.levels[idx] = lvl
}

// UpdateByPredicate finds the first level matching pred and applies fn to
// it, returning the level and true if found.
func (l *Ladder) UpdateByPredicate(pred func(*pool.BookLevel) bool, fn func(*pool.BookLevel)) (*pool.BookLevel, bool) {
	for _, lvl := range l.levels {
		if pred(lvl) {
			fn(lvl)
			return lvl, true
		}
	}
	return nil, false
}

// DeleteAt removes and returns the level at index i.
func (l *Ladder) DeleteAt(i int) *pool.BookLevel {
	if i < 0 || i >= len(l.levels) {
		return nil
	}
	lvl := l.levels[i]
	l.levels = append(l.levels[:i], l.levels[i+1:]...)
	return lvl
}

// TruncateAfterIndex drops every level after index keep (exclusive is
// keep+1..end), returning the dropped levels so the caller can return them
// to their pool.
func (l *Ladder) TruncateAfterIndex(keep int) []*pool.BookLevel {
	if keep >= len(l.levels)-1 {
		return nil
	}
	dropped := l.levels[keep+1:]
	out := make([]*pool.BookLevel, len(dropped))
	copy(out, dropped)
	l.levels = l.levels[:keep+1]
	return out
}

// TakeFirstN returns a copy of the first n levels (or fewer if the ladder is
// shorter). Unlike View, this is safe to retain past the caller's lock hold.
func (l *Ladder) TakeFirstN(n int) []*pool.BookLevel {
	if n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]*pool.BookLevel, n)
	copy(out, l.levels[:n])
	return out
}

// Clear empties the ladder, returning every level it held so the caller can
// return them to their pool.
func (l *Ladder) Clear() []*pool.BookLevel {
	out := l.levels
	l.levels = nil
	return out
}
