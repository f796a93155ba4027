// Package derivation implements the microstructure derivation engine
// (spec.md C9): a running order-to-trade ratio computed from either
// per-order (L3) events or per-price-level (L2) counter deltas, with
// automatic mode detection and publication into a C8 aggregated series.
package derivation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/quantedge/mdcore/internal/aggregation"
	"github.com/quantedge/mdcore/internal/book"
)

// Mode is the per-order (L3) vs per-price-level (L2) data mode (spec.md
// §4.9 "Mode detection").
type Mode int32

const (
	ModeL3 Mode = iota
	ModeL2
)

func (m Mode) String() string {
	if m == ModeL2 {
		return "L2"
	}
	return "L3"
}

// OrderEventKind is one per-order lifecycle event observed in L3 mode.
type OrderEventKind int

const (
	OrderAdd OrderEventKind = iota
	OrderUpdate
	OrderCancel
)

// weight mirrors spec.md §4.9's formula: order_events += add + 2·update + cancel.
func (k OrderEventKind) weight() uint64 {
	if k == OrderUpdate {
		return 2
	}
	return 1
}

// DefaultModeDetectWindow is how long the engine waits for an L3-only event
// before permanently switching to L2 (spec.md §4.9 "10 s window").
const DefaultModeDetectWindow = 10 * time.Second

// Engine computes a running order-to-trade ratio for one (provider, symbol)
// pair and publishes it into an aggregation.Series on every Tick.
type Engine struct {
	symbol     string
	providerID string
	book       *book.OrderBook
	series     *aggregation.Series[float64]
	logger     *zap.Logger

	startedAt    time.Time
	started      int32 // 0/1, atomic — startedAt is set lazily from the first Tick's clock
	detectWindow time.Duration

	mode        int32 // Mode, atomic
	modeDecided int32 // 0/1, atomic
	l3Seen      int32 // 0/1, atomic

	orderEvents uint64 // atomic
	tradeCount  uint64 // atomic

	mu            sync.Mutex
	bucketInit    bool
	currentBucket time.Time
	lastCounters  book.LevelCounters

	// emaHistory feeds talib.Ema to smooth the raw OTR series
	// (DOMAIN STACK: go-talib, same library the teacher uses for
	// candle-based SMA/EMA/RSI indicators — applied here to OTR instead of
	// close prices).
	emaHistory []float64
	emaPeriod  int
}

// Config configures an Engine.
type Config struct {
	Symbol            string
	ProviderID        string
	ModeDetectWindow  time.Duration // default DefaultModeDetectWindow
	EMAPeriod         int           // 0 means the default of 14; a negative value disables EMA smoothing
}

func (c *Config) setDefaults() {
	if c.ModeDetectWindow <= 0 {
		c.ModeDetectWindow = DefaultModeDetectWindow
	}
	if c.EMAPeriod == 0 {
		c.EMAPeriod = 14
	}
}

// New creates an Engine bound to bk (the source of L2 level counters) and
// series (where computed OTR values are published via a "last value wins"
// aggregator — callers should construct series with aggregation.LastAggregator).
func New(cfg Config, bk *book.OrderBook, series *aggregation.Series[float64], logger *zap.Logger) *Engine {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		symbol:       cfg.Symbol,
		providerID:   cfg.ProviderID,
		book:         bk,
		series:       series,
		logger:       logger,
		detectWindow: cfg.ModeDetectWindow,
		emaPeriod:    cfg.EMAPeriod,
	}
}

// Mode reports the current data mode.
func (e *Engine) Mode() Mode {
	return Mode(atomic.LoadInt32(&e.mode))
}

// RecordOrderEvent accounts for one per-order (L3) event. Ignored once the
// engine has permanently switched to L2 (spec.md §4.9).
func (e *Engine) RecordOrderEvent(kind OrderEventKind) {
	atomic.StoreInt32(&e.l3Seen, 1)
	if e.Mode() != ModeL3 {
		return
	}
	atomic.AddUint64(&e.orderEvents, kind.weight())
}

// RecordTrade accounts for one trade print. Valid in either mode.
func (e *Engine) RecordTrade() {
	atomic.AddUint64(&e.tradeCount, 1)
}

// OTR returns the current order-to-trade ratio: order_events/max(trade_count,1) - 1.
func (e *Engine) OTR() float64 {
	events := float64(atomic.LoadUint64(&e.orderEvents))
	trades := atomic.LoadUint64(&e.tradeCount)
	denom := trades
	if denom < 1 {
		denom = 1
	}
	return events/float64(denom) - 1
}

// Tick drives mode detection, L2 sampling, bucket-rollover counter reset, and
// publication into the aggregation series. Callers invoke this periodically
// (e.g. from the same timer that drives C8 bucket width) or on every trade.
func (e *Engine) Tick(now time.Time) {
	if atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		e.mu.Lock()
		e.startedAt = now
		e.mu.Unlock()
	}
	e.resetCountersOnRolloverLocked(now)
	e.checkModeTransition(now)
	if e.Mode() == ModeL2 {
		e.sampleL2DeltaLocked()
	}

	otr := e.OTR()
	e.series.Add(now, otr)
	e.recordEMA(otr)
}

func (e *Engine) resetCountersOnRolloverLocked(now time.Time) {
	bucketStart := now.Truncate(e.series.BucketWidth())
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bucketInit && e.currentBucket.Equal(bucketStart) {
		return
	}
	first := !e.bucketInit
	e.bucketInit = true
	e.currentBucket = bucketStart
	if first {
		return
	}
	atomic.StoreUint64(&e.orderEvents, 0)
	atomic.StoreUint64(&e.tradeCount, 0)
}

// checkModeTransition permanently switches L3 -> L2 once detectWindow has
// elapsed with no L3-only event observed (spec.md §4.9 "Mode detection").
func (e *Engine) checkModeTransition(now time.Time) {
	if atomic.LoadInt32(&e.modeDecided) != 0 {
		return
	}
	if atomic.LoadInt32(&e.l3Seen) != 0 {
		atomic.StoreInt32(&e.modeDecided, 1)
		return
	}
	e.mu.Lock()
	startedAt := e.startedAt
	e.mu.Unlock()
	if now.Sub(startedAt) < e.detectWindow {
		return
	}
	if atomic.CompareAndSwapInt32(&e.modeDecided, 0, 1) {
		atomic.StoreInt32(&e.mode, int32(ModeL2))
		atomic.StoreUint64(&e.orderEvents, 0)
		atomic.StoreUint64(&e.tradeCount, 0)
		e.mu.Lock()
		e.lastCounters = e.book.GetCounters()
		e.mu.Unlock()
		e.logger.Info("derivation: switched to L2 mode, no L3 events observed",
			zap.String("symbol", e.symbol),
			zap.String("provider", e.providerID),
			zap.Duration("window", e.detectWindow),
		)
	}
}

// sampleL2DeltaLocked folds the book's level-counter deltas since the last
// sample into order_events (spec.md §4.9 "L2 (price-level)").
func (e *Engine) sampleL2DeltaLocked() {
	current := e.book.GetCounters()

	e.mu.Lock()
	prev := e.lastCounters
	e.lastCounters = current
	e.mu.Unlock()

	dAdded := delta(current.Added, prev.Added)
	dUpdated := delta(current.Updated, prev.Updated)
	dDeleted := delta(current.Deleted, prev.Deleted)

	weighted := dAdded + 2*dUpdated + dDeleted
	if weighted > 0 {
		atomic.AddUint64(&e.orderEvents, uint64(weighted))
	}
}

// delta returns cur-prev. When the book's counters were reset underneath us
// (e.g. a re-snapshot on reconnection resets them to zero) and cur-prev is
// negative, it returns cur: everything counted since the reset.
func delta(cur, prev int64) int64 {
	d := cur - prev
	if d < 0 {
		return cur
	}
	return d
}

// recordEMA feeds otr into the EMA smoothing window and logs the latest
// value at debug level; callers that need the smoothed series read it back
// via EMA().
func (e *Engine) recordEMA(otr float64) {
	if e.emaPeriod <= 0 {
		return
	}
	e.mu.Lock()
	e.emaHistory = append(e.emaHistory, otr)
	if max := e.emaPeriod * 3; len(e.emaHistory) > max {
		e.emaHistory = e.emaHistory[len(e.emaHistory)-max:]
	}
	history := append([]float64(nil), e.emaHistory...)
	e.mu.Unlock()

	if len(history) < e.emaPeriod {
		return
	}
	ema := talib.Ema(history, e.emaPeriod)
	e.logger.Debug("derivation: OTR EMA",
		zap.String("symbol", e.symbol),
		zap.Float64("otr", otr),
		zap.Float64("ema", ema[len(ema)-1]),
	)
}

// EMA returns the most recently computed EMA-smoothed OTR value, if enough
// history has accumulated.
func (e *Engine) EMA() (value float64, ok bool) {
	e.mu.Lock()
	history := append([]float64(nil), e.emaHistory...)
	e.mu.Unlock()
	if e.emaPeriod <= 0 || len(history) < e.emaPeriod {
		return 0, false
	}
	ema := talib.Ema(history, e.emaPeriod)
	return ema[len(ema)-1], true
}
