// Package grpcapi streams OrderBookUpdated/TradePublished events to
// out-of-process consumers (spec.md §6 external interfaces, supplemented per
// SPEC_FULL.md: a read-only API surface alongside internal/mdapi), using a
// custom JSON codec instead of generated protobuf wire encoding. Server
// construction (keepalive policy, reflection, worker count) is adapted from
// the teacher's internal/grpc/server/server.go.
package grpcapi

import (
	"net"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/quantedge/mdcore/internal/book"
	"github.com/quantedge/mdcore/internal/pool"
	"github.com/quantedge/mdcore/proto/marketdata"
)

// Options configures Server construction (the teacher's ServerOptions,
// narrowed to the knobs this single-service deployment exercises).
type Options struct {
	MaxConnectionIdle     time.Duration
	MaxConnectionAge      time.Duration
	MaxConnectionAgeGrace time.Duration
	KeepaliveTime         time.Duration
	KeepaliveTimeout      time.Duration
	MaxConcurrentStreams  uint32
	NumServerWorkers      int
	SubscriberBuffer      int
}

// DefaultOptions mirrors the teacher's DefaultServerOptions values.
func DefaultOptions() Options {
	return Options{
		MaxConnectionIdle:     15 * time.Minute,
		MaxConnectionAge:      30 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Minute,
		KeepaliveTime:         5 * time.Second,
		KeepaliveTimeout:      1 * time.Second,
		MaxConcurrentStreams:  1000,
		NumServerWorkers:      runtime.NumCPU(),
		SubscriberBuffer:      256,
	}
}

// BookLookup resolves a (provider, symbol) pair to its live order book, used
// to recover the decimal precision a Trade's scaled int64 fields were
// quantized with (Trade itself carries no PriceDP/SizeDP — only the book
// that produced it does).
type BookLookup func(provider, symbol string) (*book.OrderBook, bool)

// Server wraps a grpc.Server exposing MarketDataService.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	logger     *zap.Logger
	options    Options
	books      BookLookup

	subMu       sync.Mutex
	nextSubID   uint64
	subscribers map[uint64]chan *marketdata.Event
}

// New builds a Server with the teacher's keepalive/reflection construction
// and registers MarketDataService against it. books resolves a trade's
// (provider, symbol) to the order book carrying its decimal precision.
func New(logger *zap.Logger, options Options, books BookLookup) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	grpcOptions := []grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             options.KeepaliveTime,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     options.MaxConnectionIdle,
			MaxConnectionAge:      options.MaxConnectionAge,
			MaxConnectionAgeGrace: options.MaxConnectionAgeGrace,
			Time:                  options.KeepaliveTime,
			Timeout:               options.KeepaliveTimeout,
		}),
		grpc.MaxConcurrentStreams(options.MaxConcurrentStreams),
		grpc.NumStreamWorkers(uint32(options.NumServerWorkers)),
	}

	grpcServer := grpc.NewServer(grpcOptions...)
	reflection.Register(grpcServer)

	s := &Server{
		grpcServer:  grpcServer,
		logger:      logger,
		options:     options,
		books:       books,
		subscribers: make(map[uint64]chan *marketdata.Event),
	}
	RegisterMarketDataServiceServer(grpcServer, s)
	return s
}

// Start listens on address and serves until Stop is called.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("starting grpcapi server",
		zap.String("address", address),
		zap.Int("workers", s.options.NumServerWorkers))
	return s.grpcServer.Serve(listener)
}

// Stop gracefully drains in-flight streams.
func (s *Server) Stop() {
	s.logger.Info("stopping grpcapi server")
	s.grpcServer.GracefulStop()
}

// StreamEvents implements MarketDataServiceServer: it registers a per-call
// subscriber channel and relays matching events until the client
// disconnects or the stream's context is cancelled.
func (s *Server) StreamEvents(req *marketdata.StreamRequest, stream MarketDataService_StreamEventsServer) error {
	id, ch := s.addSubscriber()
	defer s.removeSubscriber(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if !eventMatches(req, ev) {
				continue
			}
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}

func eventMatches(req *marketdata.StreamRequest, ev *marketdata.Event) bool {
	switch ev.Type {
	case marketdata.EventOrderBookUpdated:
		return req.MatchesBook(ev.Book)
	case marketdata.EventTradePublished:
		return req.MatchesTrade(ev.Trade)
	default:
		return false
	}
}

func (s *Server) addSubscriber() (uint64, chan *marketdata.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	ch := make(chan *marketdata.Event, s.options.SubscriberBuffer)
	s.subscribers[id] = ch
	return id, ch
}

func (s *Server) removeSubscriber(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Server) broadcast(ev *marketdata.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("grpcapi: dropping event for slow subscriber", zap.Uint64("subscriber", id))
		}
	}
}

// PublishBookUpdate converts an OrderBook into a depth-limited snapshot and
// broadcasts it; wire as an OrderBook's UpdateFunc (spec.md §6
// OrderBookUpdated).
func (s *Server) PublishBookUpdate(depth int) book.UpdateFunc {
	return func(ob *book.OrderBook) {
		bids, asks := ob.TopOfBook(depth)
		snap := &marketdata.OrderBookSnapshot{
			Provider:  ob.ProviderID,
			Symbol:    ob.Symbol,
			Sequence:  ob.Sequence(),
			State:     ob.State().String(),
			Bids:      toPriceLevels(bids, ob.PriceDP, ob.SizeDP),
			Asks:      toPriceLevels(asks, ob.PriceDP, ob.SizeDP),
			Timestamp: time.Now(),
		}
		s.broadcast(&marketdata.Event{Type: marketdata.EventOrderBookUpdated, Book: snap})
	}
}

// PublishTrade broadcasts a trade as a TradePublished event; wire as an
// internal/bus subscriber.
func (s *Server) PublishTrade(t *pool.Trade) error {
	var priceDP, sizeDP uint8
	if ob, ok := s.books(t.ProviderID, t.Symbol); ok {
		priceDP, sizeDP = ob.PriceDP, ob.SizeDP
	} else {
		s.logger.Warn("grpcapi: no book registered for trade, publishing unscaled",
			zap.String("provider", t.ProviderID), zap.String("symbol", t.Symbol))
	}
	s.broadcast(&marketdata.Event{
		Type: marketdata.EventTradePublished,
		Trade: &marketdata.Trade{
			Symbol:     t.Symbol,
			ProviderID: t.ProviderID,
			Price:      float64(t.Price) / pow10f(priceDP),
			Size:       float64(t.Size) / pow10f(sizeDP),
			IsBuy:      t.IsBuy,
			ServerTime: t.ServerTime,
		},
	})
	return nil
}

func toPriceLevels(levels []*pool.BookLevel, priceDP, sizeDP uint8) []marketdata.PriceLevel {
	priceScale := pow10f(priceDP)
	sizeScale := pow10f(sizeDP)
	out := make([]marketdata.PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = marketdata.PriceLevel{
			Price: float64(l.Price) / priceScale,
			Size:  float64(l.Size) / sizeScale,
		}
	}
	return out
}

func pow10f(dp uint8) float64 {
	scale := 1.0
	for i := uint8(0); i < dp; i++ {
		scale *= 10
	}
	return scale
}
