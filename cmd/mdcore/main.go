// Command mdcore is the market-data-core composition root: it loads
// configuration, wires one book/connector/derivation-engine triple per
// configured (provider, symbol), and starts the read-only mdapi/grpcapi/
// websocket surfaces over the result, following the teacher's fx.New(...)
// binary shape (cmd/gateway/main.go, cmd/marketdata/main.go).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/quantedge/mdcore/internal/aggregation"
	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/bus"
	"github.com/quantedge/mdcore/internal/config"
	"github.com/quantedge/mdcore/internal/connector"
	"github.com/quantedge/mdcore/internal/derivation"
	"github.com/quantedge/mdcore/internal/grpcapi"
	"github.com/quantedge/mdcore/internal/mdapi"
	"github.com/quantedge/mdcore/internal/mdmetrics"
	"github.com/quantedge/mdcore/internal/notify"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/internal/ringbuffer"
	"github.com/quantedge/mdcore/internal/settings"
	"github.com/quantedge/mdcore/internal/transport/websocket"
	"github.com/quantedge/mdcore/internal/workqueue"
)

func main() {
	configPath := flag.String("config", "", "directory holding mdcore.yaml (env MDCORE_* overrides)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mdcore: config:", err)
		os.Exit(1)
	}
	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mdcore: logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Trade the steady-state memory floor for fewer, less disruptive GC
	// pauses on the book/connector hot path (spec.md C1-C3 latency budget).
	if err := config.TuneForLatency(logger); err != nil {
		logger.Warn("gc: failed to apply latency tuning", zap.Error(err))
	}

	app := fx.New(
		fx.Supply(logger),
		fx.Supply(cfg),
		mdmetrics.Module,
		fx.Supply(mdmetrics.Config{Addr: fmt.Sprintf(":%d", portOrDefault(cfg.Monitoring.PrometheusPort, 9090))}),
		fx.Provide(newSharedLevels),
		fx.Provide(newTradeBus),
		fx.Provide(newSettingsStore),
		fx.Provide(newNotifyPublisher),
		fx.Provide(newQueueMetrics),
		fx.Provide(newRegistry),
		fx.Invoke(startConnectors),
		fx.Invoke(startAPIServers),
	)

	app.Run()
}

func portOrDefault(p int, def int) int {
	if p == 0 {
		return def
	}
	return p
}

func newSharedLevels() *pool.Levels {
	return pool.NewLevels(4096)
}

func newTradeBus(cfg *config.Config, logger *zap.Logger) (*bus.Bus, error) {
	return bus.New(cfg.RingBufferCapacity, logger)
}

// newSettingsStore opens the connector settings store; DSN comes from the
// environment (MDCORE_POSTGRES_DSN), not mdcore.yaml, so credentials never
// land in a config file on disk (spec.md §6 "Persisted state").
func newSettingsStore(logger *zap.Logger) (*settings.Store, error) {
	dsn := os.Getenv("MDCORE_POSTGRES_DSN")
	if dsn == "" {
		logger.Warn("MDCORE_POSTGRES_DSN not set, connector settings will not persist")
		dsn = "host=localhost user=mdcore dbname=mdcore sslmode=disable"
	}
	return settings.Open(settings.Config{DSN: dsn, SilentLog: true})
}

func newNotifyPublisher(logger *zap.Logger) (*notify.Publisher, error) {
	return notify.NewPublisher(notify.Config{URL: os.Getenv("MDCORE_NATS_URL")}, logger)
}

// newQueueMetrics registers C6's work-queue metric family against the same
// shared registry mdmetrics.NewRegistry exposes over HTTP, so every
// connector's inbound queue shows up next to the rest of mdcore's metrics.
func newQueueMetrics(registry *prometheus.Registry) *workqueue.Metrics {
	return workqueue.NewMetrics(registry)
}

// bookKey identifies one (provider, display symbol) order book.
type bookKey struct {
	provider string
	symbol   string
}

// registry is the shared, read-mostly state api servers query and
// connectors populate: every live book, plus the derivation engines tracking
// each book's order-to-trade ratio (spec.md C9).
type registry struct {
	mu         sync.RWMutex
	books      map[bookKey]*book.OrderBook
	engines    map[bookKey]*derivation.Engine
	connectors []*connector.Connector

	levels *pool.Levels
	tbus   *bus.Bus
	grpc   *grpcapi.Server
	hub    *websocket.Hub
}

func newRegistry(levels *pool.Levels, tbus *bus.Bus) *registry {
	return &registry{
		books:   make(map[bookKey]*book.OrderBook),
		engines: make(map[bookKey]*derivation.Engine),
		levels:  levels,
		tbus:    tbus,
	}
}

func (r *registry) put(k bookKey, bk *book.OrderBook, eng *derivation.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[k] = bk
	r.engines[k] = eng
}

func (r *registry) bookSource() mdapi.BookSource {
	return func(provider, symbol string) (*book.OrderBook, bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		bk, ok := r.books[bookKey{provider, symbol}]
		return bk, ok
	}
}

func (r *registry) bookLookup() grpcapi.BookLookup {
	return grpcapi.BookLookup(r.bookSource())
}

// venueEndpoints resolves a provider's WS/REST base URLs. mdcore.yaml
// configures symbols and credentials per connector; the venue's own
// network addresses are a small fixed registry, not operator-supplied
// config, since they never vary per deployment.
var venueEndpoints = map[string]websocket.ProviderConfig{
	"coinbase": {WSURL: "wss://ws-feed.exchange.coinbase.com", SnapshotURL: "https://api.exchange.coinbase.com/products/snapshot", PingURL: "https://api.exchange.coinbase.com/time"},
	"kraken":   {WSURL: "wss://ws.kraken.com", SnapshotURL: "https://api.kraken.com/0/public/Depth", PingURL: "https://api.kraken.com/0/public/Time"},
}

func startConnectors(lc fx.Lifecycle, cfg *config.Config, reg *registry, pub *notify.Publisher, store *settings.Store, qmetrics *workqueue.Metrics, logger *zap.Logger) error {
	for _, cc := range cfg.Connectors {
		cc := cc
		endpoints := venueEndpoints[cc.Provider]

		if err := store.Set(cc.Provider, "environment", cc.Environment); err != nil {
			logger.Warn("settings: failed to persist connector environment", zap.String("connector", cc.Provider), zap.Error(err))
		}

		for _, rawSymbol := range cc.Symbols {
			mapping, err := config.ParseSymbolMapping(rawSymbol)
			if err != nil {
				return fmt.Errorf("mdcore: %s: %w", cc.Provider, err)
			}

			key := bookKey{provider: cc.Provider, symbol: mapping.Display}

			series := aggregation.New(cfg.AggregationLevel.Duration(), 4096, aggregation.LastAggregator)
			bk := book.New(mapping.Display, cc.Provider, cc.Provider, 2, 8, cc.DepthLevels, reg.levels, logger,
				bookUpdateHook(reg, key))
			eng := derivation.New(derivation.Config{Symbol: mapping.Display, ProviderID: cc.Provider}, bk, series, logger)
			reg.put(key, bk, eng)

			provider := websocket.NewProvider(cc.Provider, endpoints, bk.PriceDP, bk.SizeDP,
				reg.levels.DeltaLevels, reg.levels.Trades, tradeHandler(reg, key), logger)

			connCfg := connector.Config{
				Symbol:               mapping.Exchange,
				MaxReconnectAttempts: cc.MaxReconnectAttempts,
				QueueMetrics:         qmetrics,
			}
			conn, err := connector.New(cc.Provider+"-"+mapping.Display, provider, bk, connCfg, logger)
			if err != nil {
				return fmt.Errorf("mdcore: %s/%s: %w", cc.Provider, mapping.Display, err)
			}
			reg.connectors = append(reg.connectors, conn)

			providerName, symbolName := cc.Provider, mapping.Display
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						if err := conn.Start(context.Background()); err != nil {
							logger.Error("connector: failed to start", zap.String("connector", providerName+"/"+symbolName), zap.Error(err))
							notifyStatus(pub, logger, providerName, symbolName, notify.StatusDisconnectedFailed)
							return
						}
						notifyStatus(pub, logger, providerName, symbolName, notify.StatusConnected)
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					notifyStatus(pub, logger, providerName, symbolName, notify.StatusDisconnected)
					return conn.Stop(ctx)
				},
			})
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	return nil
}

// bookUpdateHook adapts a registry entry's book into a book.UpdateFunc that
// re-derives the engine's L2 counters and ticks the OTR state machine on
// every mutating book operation (spec.md C9 "derived on every book change").
func bookUpdateHook(reg *registry, key bookKey) book.UpdateFunc {
	return func(bk *book.OrderBook) {
		reg.mu.RLock()
		eng := reg.engines[key]
		reg.mu.RUnlock()
		if eng == nil {
			return
		}
		eng.Tick(time.Now())
		if reg.grpc != nil {
			reg.grpc.PublishBookUpdate(apiSnapshotDepth)(bk)
		}
		if reg.hub != nil {
			select {
			case reg.hub.Broadcast <- websocket.BookUpdate(bk, apiSnapshotDepth):
			default:
			}
		}
	}
}

func notifyStatus(pub *notify.Publisher, logger *zap.Logger, provider, symbol string, status notify.ProviderStatus) {
	if err := pub.ProviderStatusChanged(context.Background(), notify.ProviderStatusChanged{
		Provider: provider, Symbol: symbol, Status: status, Timestamp: time.Now(),
	}); err != nil {
		logger.Warn("notify: failed to publish provider status", zap.Error(err))
	}
}

// tradeHandler builds a venue-trade callback that publishes onto the shared
// bus (for grpcapi/websocket fan-out) and records the print against the
// symbol's derivation engine (spec.md C9 OTR numerator).
func tradeHandler(reg *registry, key bookKey) websocket.TradeHandler {
	return func(t *pool.Trade) {
		reg.tbus.Publish(t)
		reg.mu.RLock()
		eng := reg.engines[key]
		reg.mu.RUnlock()
		if eng != nil {
			eng.RecordTrade()
		}
	}
}

const apiSnapshotDepth = 50

func startAPIServers(lc fx.Lifecycle, cfg *config.Config, reg *registry, logger *zap.Logger) error {
	hub := websocket.NewHub(logger)
	reg.hub = hub

	grpcServer := grpcapi.New(logger, grpcapi.DefaultOptions(), reg.bookLookup())
	reg.grpc = grpcServer

	reg.tbus.Subscribe("grpcapi", func(t *pool.Trade) error {
		return grpcServer.PublishTrade(t)
	})
	books := reg.bookSource()
	reg.tbus.Subscribe("websocket-hub", func(t *pool.Trade) error {
		priceDP, sizeDP := uint8(0), uint8(0)
		if bk, ok := books(t.ProviderID, t.Symbol); ok {
			priceDP, sizeDP = bk.PriceDP, bk.SizeDP
		}
		hub.Broadcast <- websocket.TradeUpdate(t, priceDP, sizeDP)
		return nil
	})

	httpServer := mdapi.New(mdapi.Config{
		Addr:        ":8081",
		Environment: string(cfg.Connectors[0].Environment),
		JWTSecret:   os.Getenv("MDCORE_JWT_SECRET"),
	}, reg.bookSource(), lagSource(reg), logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go hub.Run()
			go func() {
				if err := httpServer.ListenAndServe(); err != nil {
					logger.Error("mdapi: serve error", zap.Error(err))
				}
			}()
			go func() {
				if err := grpcServer.Start(":9091"); err != nil {
					logger.Error("grpcapi: serve error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hub.Stop()
			grpcServer.Stop()
			return httpServer.Shutdown(ctx)
		},
	})
	return nil
}

// lagSource reports ring-buffer consumer health for C4's /consumers/{name}
// endpoint. Only the shared trade ring is exposed this way; per-book
// staleness is reported through the snapshot endpoint's State field instead.
func lagSource(reg *registry) mdapi.LagSource {
	consumer, err := reg.tbus.Ring().Subscribe("mdapi-lag-probe", true)
	if err != nil {
		return func(string) (uint64, float64, ringbuffer.HealthState, bool) {
			return 0, 0, ringbuffer.HealthCritical, false
		}
	}
	return func(name string) (uint64, float64, ringbuffer.HealthState, bool) {
		if name != "mdapi-lag-probe" {
			return 0, 0, ringbuffer.HealthCritical, false
		}
		lag := reg.tbus.Ring().Lag(consumer)
		lagPct, state := reg.tbus.Ring().Health(consumer)
		return lag, lagPct, state, true
	}
}
