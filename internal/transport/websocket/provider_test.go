package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/quantedge/mdcore/internal/pool"
	protows "github.com/quantedge/mdcore/proto/ws"
)

func TestQuantizeRoundsToNearestTick(t *testing.T) {
	if got := quantize(123.456, 2); got != 12346 {
		t.Fatalf("quantize(123.456, 2) = %d, want 12346", got)
	}
	if got := quantize(0, 4); got != 0 {
		t.Fatalf("quantize(0, 4) = %d, want 0", got)
	}
}

func TestActionForSizeZeroIsDelete(t *testing.T) {
	if actionFor(0) != pool.ActionDelete {
		t.Fatal("expected ActionDelete for zero size")
	}
	if actionFor(1.5) != pool.ActionChange {
		t.Fatal("expected ActionChange for nonzero size")
	}
}

func TestToPoolSide(t *testing.T) {
	if toPoolSide(protows.SideAsk) != pool.SideAsk {
		t.Fatal("expected SideAsk to map to pool.SideAsk")
	}
	if toPoolSide(protows.SideBid) != pool.SideBid {
		t.Fatal("expected SideBid to map to pool.SideBid")
	}
}

func TestToDeltaLevelsConvertsSideChanges(t *testing.T) {
	p := &Provider{
		deltas:  pool.New(8, func() *pool.DeltaLevel { return &pool.DeltaLevel{} }),
		priceDP: 2,
		sizeDP:  4,
	}
	d := &protows.Delta{
		Symbol: "BTC-USD",
		SideChanges: []protows.SideChange{
			{Side: protows.SideBid, Price: 100.50, Size: 2.0},
			{Side: protows.SideAsk, Price: 101.25, Size: 0},
		},
		StartSeq: 1,
		EndSeq:   2,
	}
	levels := p.toDeltaLevels(d)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if levels[0].Price != 10050 || levels[0].Action != pool.ActionChange {
		t.Fatalf("unexpected bid level: %+v", levels[0])
	}
	if levels[1].Action != pool.ActionDelete {
		t.Fatalf("unexpected ask level: %+v", levels[1])
	}
}

func TestToTradeScalesByProviderPrecision(t *testing.T) {
	p := &Provider{
		name:    "fake",
		trades:  pool.New(8, func() *pool.Trade { return &pool.Trade{} }),
		priceDP: 2,
		sizeDP:  4,
	}
	tr := p.toTrade(&protows.Trade{Symbol: "BTC-USD", Price: 100.50, Size: 2.0, Side: protows.SideBid})
	if tr.Price != 10050 || tr.Size != 20000 || !tr.IsBuy {
		t.Fatalf("unexpected trade: %+v", tr)
	}
	if tr.ProviderID != "fake" {
		t.Fatalf("expected ProviderID %q, got %q", "fake", tr.ProviderID)
	}
}

func TestDecodeGzipJSONHandlesCompressedBody(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_ = json.NewEncoder(zw).Encode(snapshotDTO{Sequence: 42})
	zw.Close()

	var dto snapshotDTO
	if err := decodeGzipJSON(&buf, &dto); err != nil {
		t.Fatalf("decodeGzipJSON: %v", err)
	}
	if dto.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", dto.Sequence)
	}
}

func TestDecodeGzipJSONToleratesPlainBody(t *testing.T) {
	payload, _ := json.Marshal(snapshotDTO{Sequence: 7})
	var dto snapshotDTO
	if err := decodeGzipJSON(bytes.NewReader(payload), &dto); err != nil {
		t.Fatalf("decodeGzipJSON: %v", err)
	}
	if dto.Sequence != 7 {
		t.Fatalf("expected sequence 7, got %d", dto.Sequence)
	}
}

func TestProviderPingSucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider("fake", ProviderConfig{PingURL: srv.URL}, 2, 4, pool.New(8, func() *pool.DeltaLevel { return &pool.DeltaLevel{} }), nil, nil, nil)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestProviderPingFailsOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewProvider("fake", ProviderConfig{PingURL: srv.URL}, 2, 4, pool.New(8, func() *pool.DeltaLevel { return &pool.DeltaLevel{} }), nil, nil, nil)
	p.rest.SetRetryCount(0)
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected error for 5xx ping response")
	}
}

func TestProviderFetchSnapshotDecodesGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		defer zw.Close()
		_ = json.NewEncoder(zw).Encode(snapshotDTO{
			Bids:     []protows.Level{{Price: 100, Size: 1}},
			Asks:     []protows.Level{{Price: 101, Size: 2}},
			Sequence: 5,
		})
	}))
	defer srv.Close()

	p := NewProvider("fake", ProviderConfig{SnapshotURL: srv.URL}, 2, 4, pool.New(8, func() *pool.DeltaLevel { return &pool.DeltaLevel{} }), nil, nil, nil)
	bids, asks, seq, err := p.FetchSnapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if seq != 5 || len(bids) != 1 || len(asks) != 1 {
		t.Fatalf("unexpected snapshot: bids=%v asks=%v seq=%d", bids, asks, seq)
	}
	if bids[0].Price != 100 || asks[0].Price != 101 {
		t.Fatalf("unexpected level values: bids=%v asks=%v", bids, asks)
	}
}
