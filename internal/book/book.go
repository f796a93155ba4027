package book

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/quantedge/mdcore/internal/pool"
)

// State is the per-book state machine: Empty -> (snapshot) -> Live ->
// (gap|reset) -> Empty (spec.md §4.2).
type State uint8

const (
	StateEmpty State = iota
	StateLive
)

func (s State) String() string {
	if s == StateLive {
		return "live"
	}
	return "empty"
}

// ProviderStatus mirrors the outbound ProviderStatusChanged shapes of
// spec.md §6.
type ProviderStatus uint8

const (
	ProviderConnecting ProviderStatus = iota
	ProviderConnected
	ProviderDisconnected
	ProviderDisconnectedFailed
)

// SnapshotLevel is one raw (unscaled) price level as received from a REST
// snapshot, before it is quantized into the book's fixed-point scale.
type SnapshotLevel struct {
	Price   float64
	Size    float64
	EntryID string
}

// Metrics is the pure-function output of ComputeMetrics: spec.md leaves the
// exact imbalance formula to policy, only requiring it be a function of the
// two sides' current depth.
type Metrics struct {
	Mid       float64
	Spread    float64
	Imbalance float64
}

// UpdateFunc is invoked after every successful mutating operation, outside
// the book's lock, to emit the outbound OrderBookUpdated event (spec.md §6).
type UpdateFunc func(*OrderBook)

// OrderBook is the per-(provider,symbol) limit order book engine (spec.md
// C2). All mutating operations serialize on mu; counters are atomic and
// observable without the lock.
type OrderBook struct {
	Symbol       string
	ProviderID   string
	ProviderName string
	PriceDP      uint8
	SizeDP       uint8
	MaxDepth     int

	priceScale float64
	sizeScale  float64

	mu    sync.RWMutex
	bids  *Ladder
	asks  *Ladder
	state State

	lastSequence uint64
	lastUpdated  time.Time

	status int32 // ProviderStatus, atomic

	counters counters

	pools    *pool.Levels
	logger   *zap.Logger
	onUpdate UpdateFunc
}

// New creates an empty OrderBook in state Empty. pools must outlive the
// book; logger may be nil (a no-op logger is substituted).
func New(symbol, providerID, providerName string, priceDP, sizeDP uint8, maxDepth int, pools *pool.Levels, logger *zap.Logger, onUpdate UpdateFunc) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		Symbol:       symbol,
		ProviderID:   providerID,
		ProviderName: providerName,
		PriceDP:      priceDP,
		SizeDP:       sizeDP,
		MaxDepth:     maxDepth,
		priceScale:   pow10(priceDP),
		sizeScale:    pow10(sizeDP),
		bids:         NewLadder(bidLess),
		asks:         NewLadder(askLess),
		state:        StateEmpty,
		pools:        pools,
		logger:       logger,
		onUpdate:     onUpdate,
	}
}

func pow10(dp uint8) float64 {
	scale := 1.0
	for i := uint8(0); i < dp; i++ {
		scale *= 10
	}
	return scale
}

// State returns the book's current lifecycle state.
func (ob *OrderBook) State() State {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.state
}

// Sequence returns the last applied sequence number.
func (ob *OrderBook) Sequence() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastSequence
}

// SetStatus records a provider status transition (spec.md §6
// ProviderStatusChanged); it does not touch book state.
func (ob *OrderBook) SetStatus(s ProviderStatus) {
	atomic.StoreInt32(&ob.status, int32(s))
}

// Status returns the last recorded provider status.
func (ob *OrderBook) Status() ProviderStatus {
	return ProviderStatus(atomic.LoadInt32(&ob.status))
}

func (ob *OrderBook) notifyUpdate() {
	if ob.onUpdate != nil {
		ob.onUpdate(ob)
	}
}

func (ob *OrderBook) ladderFor(side pool.Side) *Ladder {
	if side == pool.SideBid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) quantizePrice(price float64) int64 {
	return int64roundHalfAwayFromZero(price * ob.priceScale)
}

// ApplySnapshot atomically replaces the book's state (spec.md §4.2
// apply_snapshot): filters null price/size, sorts, recomputes cumulative
// sizes, resets level counters, and sets last_sequence.
func (ob *OrderBook) ApplySnapshot(bids, asks []SnapshotLevel, sequence uint64) {
	notify := false
	func() {
		ob.mu.Lock()
		defer ob.mu.Unlock()

		for _, lvl := range ob.bids.Clear() {
			ob.pools.BookLevels.Put(lvl)
		}
		for _, lvl := range ob.asks.Clear() {
			ob.pools.BookLevels.Put(lvl)
		}
		ob.counters.reset()

		ob.fillSide(ob.bids, bids, true)
		ob.fillSide(ob.asks, asks, false)

		ob.lastSequence = sequence
		ob.lastUpdated = time.Now()
		ob.state = StateLive
		notify = true
	}()
	if notify {
		ob.notifyUpdate()
	}
}

func (ob *OrderBook) fillSide(ladder *Ladder, raw []SnapshotLevel, isBid bool) {
	for _, r := range raw {
		if r.Price <= 0 {
			continue
		}
		sizeScaled, isZero := quantize(r.Size, ob.SizeDP)
		if isZero || sizeScaled < 0 {
			continue
		}
		lvl := ob.pools.BookLevels.Get()
		lvl.Symbol = ob.Symbol
		lvl.ProviderID = ob.ProviderID
		lvl.Price = ob.quantizePrice(r.Price)
		lvl.Size = sizeScaled
		lvl.EntryID = r.EntryID
		lvl.IsBid = isBid
		lvl.PriceDP = ob.PriceDP
		lvl.SizeDP = ob.SizeDP
		lvl.LocalTime = time.Now()
		ladder.Add(lvl)
	}
	if ob.MaxDepth > 0 && ladder.Len() > ob.MaxDepth {
		for _, dropped := range ladder.TruncateAfterIndex(ob.MaxDepth - 1) {
			ob.pools.BookLevels.Put(dropped)
		}
	}
	var cum int64
	for i := 0; i < ladder.Len(); i++ {
		lvl := ladder.At(i)
		cum += lvl.Size
		lvl.CumSize = cum
	}
}

// ApplyDelta applies one delta batch covering [startSeq, endSeq]. Batches at
// or behind last_sequence are dropped (ErrStaleSequence, non-fatal); a
// batch whose range does not cover last_sequence+1 is a gap (ErrSequenceGap,
// fatal — the book moves to StateEmpty and the caller must re-snapshot).
func (ob *OrderBook) ApplyDelta(startSeq, endSeq uint64, levels []*pool.DeltaLevel) error {
	var retErr error
	notify := false
	func() {
		ob.mu.Lock()
		defer ob.mu.Unlock()

		if endSeq <= ob.lastSequence {
			retErr = ErrStaleSequence
			return
		}
		if startSeq > ob.lastSequence+1 {
			ob.state = StateEmpty
			retErr = ErrSequenceGap
			return
		}

		for _, d := range levels {
			if d.Price <= 0 && d.EntryID == "" {
				ob.logger.Warn("dropping invalid delta: no price or entry id",
					zap.String("symbol", ob.Symbol))
				continue
			}
			ob.addOrUpdateLevelLocked(d)
		}

		ob.lastSequence = endSeq
		ob.lastUpdated = time.Now()
		ob.state = StateLive
		notify = true
	}()
	if notify {
		ob.notifyUpdate()
	}
	return retErr
}

// AddOrUpdateLevel applies a single delta outside of a sequence-checked
// batch (spec.md §4.2 add_or_update_level): looked up by price equality at
// stored precision; missing -> add_level, present -> update_level; a size
// that quantizes to zero is always a delete_level.
func (ob *OrderBook) AddOrUpdateLevel(d *pool.DeltaLevel) {
	notify := false
	func() {
		ob.mu.Lock()
		defer ob.mu.Unlock()
		ob.addOrUpdateLevelLocked(d)
		notify = true
	}()
	if notify {
		ob.notifyUpdate()
	}
}

func (ob *OrderBook) addOrUpdateLevelLocked(d *pool.DeltaLevel) {
	ladder := ob.ladderFor(d.Side)
	if d.Size == 0 {
		ob.deleteLevelLocked(ladder, d)
		return
	}
	idx := ladder.FindByPrice(d.Price)
	if idx < 0 {
		ob.addLevelLocked(ladder, d)
		return
	}
	ob.updateLevelLocked(ladder.At(idx), d)
}

// addLevelLocked implements spec.md §4.2 add_level: if the side is already
// at max depth and the new entry is worse than the current worst kept
// level, the add is dropped outright; otherwise it is inserted in sort
// position and the tail is truncated (and pool-returned) if that pushes the
// side over max depth.
func (ob *OrderBook) addLevelLocked(ladder *Ladder, d *pool.DeltaLevel) {
	if ob.MaxDepth > 0 && ladder.Len() >= ob.MaxDepth {
		if worst := ladder.At(ladder.Len() - 1); ladder.cmp(d.Price, worst.Price) > 0 {
			return
		}
	}

	lvl := ob.pools.BookLevels.Get()
	lvl.Symbol = ob.Symbol
	lvl.ProviderID = ob.ProviderID
	lvl.Price = d.Price
	lvl.Size = d.Size
	lvl.EntryID = d.EntryID
	lvl.IsBid = d.Side == pool.SideBid
	lvl.ServerTime = d.ServerTime
	lvl.LocalTime = d.LocalTime
	lvl.PriceDP = ob.PriceDP
	lvl.SizeDP = ob.SizeDP
	ladder.Add(lvl)

	ob.counters.onAdd()
	ob.counters.addVolume(scaleSize(d.Size))

	if ob.MaxDepth > 0 && ladder.Len() > ob.MaxDepth {
		for _, dropped := range ladder.TruncateAfterIndex(ob.MaxDepth - 1) {
			ob.pools.BookLevels.Put(dropped)
		}
	}
	ob.recomputeCumulative(ladder)
}

// updateLevelLocked implements spec.md §4.2 update_level: size decreasing
// counts as a (partial) delete of volume, size increasing as a (partial)
// add, equal sizes only bump the updated counter.
func (ob *OrderBook) updateLevelLocked(existing *pool.BookLevel, d *pool.DeltaLevel) {
	old := existing.Size
	existing.Size = d.Size
	existing.ServerTime = d.ServerTime
	existing.LocalTime = d.LocalTime
	if d.EntryID != "" {
		existing.EntryID = d.EntryID
	}

	switch {
	case old > d.Size:
		ob.counters.onDelete()
		ob.counters.deleteVolume(scaleSize(old - d.Size))
	case d.Size > old:
		ob.counters.onAdd()
		ob.counters.addVolume(scaleSize(d.Size - old))
	default:
		ob.counters.onUpdate()
	}
	ob.recomputeCumulative(ob.ladderFor(d.Side))
}

// deleteLevelLocked implements spec.md §4.2 delete_level: locate by entry id
// if present, else by price; a miss is a silent no-op (idempotent deletes).
func (ob *OrderBook) deleteLevelLocked(ladder *Ladder, d *pool.DeltaLevel) {
	idx := -1
	if d.EntryID != "" {
		idx = ladder.FindByEntryID(d.EntryID)
	}
	if idx < 0 {
		idx = ladder.FindByPrice(d.Price)
	}
	if idx < 0 {
		return
	}
	lvl := ladder.DeleteAt(idx)
	ob.counters.onDelete()
	ob.counters.deleteVolume(scaleSize(lvl.Size))
	ob.pools.BookLevels.Put(lvl)
	ob.recomputeCumulative(ladder)
}

func (ob *OrderBook) recomputeCumulative(ladder *Ladder) {
	var cum int64
	for i := 0; i < ladder.Len(); i++ {
		lvl := ladder.At(i)
		cum += lvl.Size
		lvl.CumSize = cum
	}
}

// ComputeMetrics returns mid, spread, and imbalance as a pure function of
// the book's current two sides (spec.md §4.2 compute_metrics).
func (ob *OrderBook) ComputeMetrics() Metrics {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if ob.bids.Len() == 0 || ob.asks.Len() == 0 {
		return Metrics{}
	}
	bidPrice := float64(ob.bids.At(0).Price) / ob.priceScale
	askPrice := float64(ob.asks.At(0).Price) / ob.priceScale

	bidSizes := make([]float64, ob.bids.Len())
	for i := 0; i < ob.bids.Len(); i++ {
		bidSizes[i] = float64(ob.bids.At(i).Size)
	}
	askSizes := make([]float64, ob.asks.Len())
	for i := 0; i < ob.asks.Len(); i++ {
		askSizes[i] = float64(ob.asks.At(i).Size)
	}
	bidVol := floats.Sum(bidSizes)
	askVol := floats.Sum(askSizes)

	m := Metrics{
		Mid:    (bidPrice + askPrice) / 2,
		Spread: askPrice - bidPrice,
	}
	if bidVol+askVol > 0 {
		m.Imbalance = (bidVol - askVol) / (bidVol + askVol)
	}
	return m
}

// GetCounters returns an atomic snapshot of level add/update/delete counts
// since the last ApplySnapshot.
func (ob *OrderBook) GetCounters() LevelCounters {
	return ob.counters.snapshot()
}

// GetVolumeCounters returns an atomic snapshot of scaled volume moved by
// adds and deletes since the last ApplySnapshot. Unscale with UnscaleVolume.
func (ob *OrderBook) GetVolumeCounters() VolumeCounters {
	return ob.counters.volumeSnapshot()
}

// UnscaleVolume converts scaled integer volume counters back to float using
// the book's size precision.
func (ob *OrderBook) UnscaleVolume(v VolumeCounters) (added, deleted float64) {
	return float64(v.Added) / ob.sizeScale, float64(v.Deleted) / ob.sizeScale
}

// BidsView returns a read-only borrow of the bid ladder, valid only while
// the caller holds no reference past the returned unlock call.
func (ob *OrderBook) BidsView(fn func([]*pool.BookLevel)) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	fn(ob.bids.View())
}

// AsksView is the ask-side counterpart of BidsView.
func (ob *OrderBook) AsksView(fn func([]*pool.BookLevel)) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	fn(ob.asks.View())
}

// TopOfBook returns copies (safe to retain) of the best n levels per side.
func (ob *OrderBook) TopOfBook(n int) (bids, asks []*pool.BookLevel) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.TakeFirstN(n), ob.asks.TakeFirstN(n)
}

// identity returns a stable pointer-derived identity used only for
// deterministic cross-book lock ordering in ComputeDeltaAgainst.
func (ob *OrderBook) identity() uintptr {
	return uintptr(unsafe.Pointer(ob))
}

// ComputeDeltaAgainst performs an O(N+M) two-pointer merge of ob (the new
// state) against prior (the baseline), emitting one pooled DeltaLevel per
// differing price per side. Removal emits size=0; addition emits size=new;
// change emits size=new only when sizes differ. Each emitted DeltaLevel is
// returned to the pool immediately after emit returns — callers must copy
// synchronously (spec.md §4.2 compute_delta_against, §9).
func (ob *OrderBook) ComputeDeltaAgainst(prior *OrderBook, emit func(*pool.DeltaLevel)) {
	unlock := lockIdentityOrdered(ob, prior)
	defer unlock()

	diffSide(ob.bids, prior.bids, pool.SideBid, ob.lastSequence, ob.pools, emit)
	diffSide(ob.asks, prior.asks, pool.SideAsk, ob.lastSequence, ob.pools, emit)
}

func lockIdentityOrdered(a, b *OrderBook) func() {
	if a == b {
		a.mu.RLock()
		return a.mu.RUnlock
	}
	if a.identity() < b.identity() {
		a.mu.RLock()
		b.mu.RLock()
		return func() { b.mu.RUnlock(); a.mu.RUnlock() }
	}
	b.mu.RLock()
	a.mu.RLock()
	return func() { a.mu.RUnlock(); b.mu.RUnlock() }
}

func diffSide(curr, prior *Ladder, side pool.Side, seq uint64, pools *pool.Levels, emit func(*pool.DeltaLevel)) {
	cmp := curr.cmp
	i, j := 0, 0
	emitOne := func(price, size int64, action pool.DeltaAction) {
		d := pools.DeltaLevels.Get()
		d.Side = side
		d.Price = price
		d.Size = size
		d.Action = action
		d.Sequence = seq
		emit(d)
		pools.DeltaLevels.Put(d)
	}

	for i < curr.Len() && j < prior.Len() {
		a, b := curr.At(i), prior.At(j)
		switch cmp(a.Price, b.Price) {
		case 0:
			if a.Size != b.Size {
				emitOne(a.Price, a.Size, pool.ActionChange)
			}
			i++
			j++
		case -1:
			emitOne(a.Price, a.Size, pool.ActionNew)
			i++
		default:
			emitOne(b.Price, 0, pool.ActionDelete)
			j++
		}
	}
	for ; i < curr.Len(); i++ {
		a := curr.At(i)
		emitOne(a.Price, a.Size, pool.ActionNew)
	}
	for ; j < prior.Len(); j++ {
		b := prior.At(j)
		emitOne(b.Price, 0, pool.ActionDelete)
	}
}

func int64roundHalfAwayFromZero(x float64) int64 {
	if x >= 0 {
		return int64(x + 0.5)
	}
	return int64(x - 0.5)
}
