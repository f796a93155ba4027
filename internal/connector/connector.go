package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/internal/workqueue"
)

// DeltaHandler is how a Provider hands an incremental update batch back to
// the Connector; start/end are the sequence range the batch covers.
type DeltaHandler func(startSeq, endSeq uint64, levels []*pool.DeltaLevel)

// Provider is the venue-facing half of a Connector: everything the
// Connector needs to establish and maintain one symbol's book, kept
// transport-agnostic per spec.md §6 (WebSocket/REST libraries are wired
// behind concrete providers in internal/transport, never named here).
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	FetchSnapshot(ctx context.Context, symbol string) (bids, asks []book.SnapshotLevel, sequence uint64, err error)
	SubscribeDeltas(ctx context.Context, symbol string, onDelta DeltaHandler) error
	UnsubscribeDeltas(ctx context.Context, symbol string) error
	Ping(ctx context.Context) error
}

// Config configures heartbeat cadence, reconnection limits, and the
// inbound-delta queue's backpressure threshold.
type Config struct {
	Symbol                    string
	HeartbeatInterval         time.Duration
	HeartbeatFailureThreshold int
	MaxReconnectAttempts      int // 0 = unbounded
	InboundQueueWarnDepth     int
	QueueMetrics              *workqueue.Metrics // nil disables metrics for the inbound queue
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.HeartbeatFailureThreshold <= 0 {
		c.HeartbeatFailureThreshold = 5
	}
	if c.InboundQueueWarnDepth <= 0 {
		c.InboundQueueWarnDepth = 1000
	}
}

type pendingDelta struct {
	start, end uint64
	levels     []*pool.DeltaLevel
}

// Connector drives one Provider/symbol pair through the spec.md §4.7 FSM.
type Connector struct {
	name     string
	cfg      Config
	provider Provider
	book     *book.OrderBook
	logger   *zap.Logger

	state   stateBox
	backoff *Backoff

	breaker     *gobreaker.CircuitBreaker
	pingLimiter *rate.Limiter
	workerPool  *ants.Pool

	inbound *workqueue.Queue

	reconnecting int32 // atomic bool: single-flight gate for triggerReconnect

	pendingMu       sync.Mutex
	snapshotApplied bool
	pendingDeltas   []pendingDelta

	heartbeatMissed int32
	heartbeatStop   chan struct{}
	heartbeatDone   chan struct{}

	stopOnce sync.Once
}

// New creates a Connector in state LOADED. Call Start to bring it up.
func New(name string, provider Provider, bk *book.OrderBook, cfg Config, logger *zap.Logger) (*Connector, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	workerPool, err := ants.NewPool(4, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	c := &Connector{
		name:        name,
		cfg:         cfg,
		provider:    provider,
		book:        bk,
		logger:      logger,
		backoff:     DefaultBackoff(),
		pingLimiter: rate.NewLimiter(rate.Every(cfg.HeartbeatInterval), 1),
		workerPool:  workerPool,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(bname string, from, to gobreaker.State) {
			logger.Info("connector circuit breaker state changed",
				zap.String("connector", bname), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	c.inbound = workqueue.New(name+"-inbound", cfg.InboundQueueWarnDepth, logger, cfg.QueueMetrics)
	return c, nil
}

// State returns the connector's current FSM state.
func (c *Connector) State() State { return c.state.load() }

// Start brings the connector from LOADED (or STOPPED/STOPPED_FAILED) up:
// connect, fetch a snapshot, apply it, subscribe to deltas, start the
// heartbeat. A failure here leaves the connector STOPPED_FAILED.
func (c *Connector) Start(ctx context.Context) error {
	if _, err := c.state.transition(StateStarting); err != nil {
		return err
	}
	if err := c.connectAndSync(ctx); err != nil {
		c.state.transition(StateStoppedFailed)
		return err
	}
	if _, err := c.state.transition(StateStarted); err != nil {
		return err
	}
	c.startHeartbeat()
	return nil
}

// connectAndSync performs the snapshot-before-delta handshake: connect,
// fetch and apply a fresh snapshot, replay any delta batches that arrived
// and were buffered before this call (spec.md §4.7 "snapshot/delta
// ordering"), then subscribe for further deltas.
func (c *Connector) connectAndSync(ctx context.Context) error {
	c.pendingMu.Lock()
	c.snapshotApplied = false
	c.pendingMu.Unlock()

	if err := c.provider.Connect(ctx); err != nil {
		return err
	}
	bids, asks, seq, err := c.provider.FetchSnapshot(ctx, c.cfg.Symbol)
	if err != nil {
		return err
	}
	c.book.ApplySnapshot(bids, asks, seq)

	c.pendingMu.Lock()
	c.snapshotApplied = true
	buffered := c.pendingDeltas
	c.pendingDeltas = nil
	c.pendingMu.Unlock()

	for _, d := range buffered {
		c.applyDeltaBatch(d)
	}

	if err := c.provider.SubscribeDeltas(ctx, c.cfg.Symbol, c.onDelta); err != nil {
		return err
	}
	return nil
}

// onDelta is the Provider-facing callback. Batches that arrive before the
// current snapshot has been applied are buffered, not dropped; everything
// else is handed to the inbound queue so book mutation happens on a single
// consumer regardless of how many provider goroutines call in.
func (c *Connector) onDelta(start, end uint64, levels []*pool.DeltaLevel) {
	c.pendingMu.Lock()
	if !c.snapshotApplied {
		c.pendingDeltas = append(c.pendingDeltas, pendingDelta{start, end, levels})
		c.pendingMu.Unlock()
		return
	}
	c.pendingMu.Unlock()

	batch := pendingDelta{start, end, levels}
	if err := c.inbound.Add(func() { c.applyDeltaBatch(batch) }); err != nil {
		c.logger.Warn("connector: dropped delta batch, inbound queue stopped",
			zap.String("connector", c.name), zap.Error(err))
	}
}

func (c *Connector) applyDeltaBatch(d pendingDelta) {
	err := c.book.ApplyDelta(d.start, d.end, d.levels)
	switch {
	case errors.Is(err, book.ErrSequenceGap):
		c.logger.Warn("connector: sequence gap, triggering reconnect",
			zap.String("connector", c.name), zap.Uint64("start", d.start), zap.Uint64("end", d.end))
		c.triggerReconnect(err)
	case errors.Is(err, book.ErrStaleSequence):
		// expected under normal replay/retry traffic, not worth a reconnect
	case err != nil:
		c.logger.Error("connector: failed to apply delta batch",
			zap.String("connector", c.name), zap.Error(err))
	}
}

// triggerReconnect coalesces concurrent reconnect triggers (a sequence gap
// and a heartbeat failure landing at once, say) into a single in-flight
// attempt (spec.md §4.7 "reconnection coalescing").
func (c *Connector) triggerReconnect(reason error) {
	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}
	cur := c.state.load()
	if cur != StateStarted && cur != StateStarting {
		atomic.StoreInt32(&c.reconnecting, 0)
		return
	}
	if cur == StateStarted {
		if _, err := c.state.transition(StateStarting); err != nil {
			atomic.StoreInt32(&c.reconnecting, 0)
			return
		}
	}

	submitErr := c.workerPool.Submit(func() {
		defer atomic.StoreInt32(&c.reconnecting, 0)
		c.reconnectLoop(reason)
	})
	if submitErr != nil {
		atomic.StoreInt32(&c.reconnecting, 0)
		c.logger.Error("connector: failed to submit reconnect task",
			zap.String("connector", c.name), zap.Error(submitErr))
	}
}

func (c *Connector) reconnectLoop(reason error) {
	c.logger.Warn("connector: reconnecting", zap.String("connector", c.name), zap.Error(reason))

	for attempt := 0; c.cfg.MaxReconnectAttempts <= 0 || attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		if s := c.state.load(); s == StateStopping || s == StateStopped {
			return
		}
		time.Sleep(c.backoff.Next())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_ = c.provider.Disconnect(ctx)
		err := c.connectAndSync(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("connector: reconnect attempt failed",
				zap.String("connector", c.name), zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		c.backoff.Reset()
		atomic.StoreInt32(&c.heartbeatMissed, 0)
		if _, err := c.state.transition(StateStarted); err != nil {
			c.logger.Error("connector: reconnected but could not resume STARTED",
				zap.String("connector", c.name), zap.Error(err))
		}
		return
	}

	c.logger.Error("connector: exceeded max reconnect attempts",
		zap.String("connector", c.name), zap.Int("attempts", c.cfg.MaxReconnectAttempts))
	c.state.transition(StateStoppedFailed)
}

func (c *Connector) startHeartbeat() {
	c.heartbeatStop = make(chan struct{})
	c.heartbeatDone = make(chan struct{})
	go c.heartbeatLoop()
}

func (c *Connector) heartbeatLoop() {
	defer close(c.heartbeatDone)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-ticker.C:
			c.doHeartbeat()
		}
	}
}

func (c *Connector) doHeartbeat() {
	if err := c.pingLimiter.Wait(context.Background()); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HeartbeatInterval)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.provider.Ping(ctx)
	})
	if err != nil {
		missed := atomic.AddInt32(&c.heartbeatMissed, 1)
		if missed >= int32(c.cfg.HeartbeatFailureThreshold) {
			atomic.StoreInt32(&c.heartbeatMissed, 0)
			c.logger.Warn("connector: heartbeat failure threshold reached",
				zap.String("connector", c.name), zap.Int32("missed", missed))
			c.triggerReconnect(err)
		}
		return
	}
	atomic.StoreInt32(&c.heartbeatMissed, 0)
}

// Stop releases the connector's resources in order: heartbeat, then
// unsubscribe, then pause+drain the inbound queue, then disconnect
// (closing sockets), then release the worker pool (spec.md §4.7 "resource
// release ordering").
func (c *Connector) Stop(ctx context.Context) error {
	if _, err := c.state.transition(StateStopping); err != nil {
		return err
	}

	var stopErr error
	c.stopOnce.Do(func() {
		if c.heartbeatStop != nil {
			close(c.heartbeatStop)
			<-c.heartbeatDone
		}

		unsubErr := c.provider.UnsubscribeDeltas(ctx, c.cfg.Symbol)

		c.inbound.Pause()
		c.inbound.Stop()

		discErr := c.provider.Disconnect(ctx)

		c.workerPool.Release()

		stopErr = errors.Join(unsubErr, discErr)
	})

	if stopErr != nil {
		c.state.transition(StateStoppedFailed)
		return stopErr
	}
	c.state.transition(StateStopped)
	return nil
}
