package notify

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNotificationRoundTripsJSON(t *testing.T) {
	n := Notification{
		Level:     LevelWarn,
		Category:  "connector",
		Text:      "heartbeat missed",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Notification
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != n {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", out, n)
	}
}

func TestProviderStatusChangedRoundTripsJSON(t *testing.T) {
	e := ProviderStatusChanged{
		Provider:  "fake",
		Symbol:    "BTC-USD",
		Status:    StatusConnected,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ProviderStatusChanged
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != e {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", out, e)
	}
}

func TestDerivedMetricRoundTripsJSON(t *testing.T) {
	m := DerivedMetric{Tag: "otr", Value: 21, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out DerivedMetric
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != m {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", out, m)
	}
}

func TestConfigDefaultsURL(t *testing.T) {
	var c Config
	c.setDefaults()
	if c.URL == "" {
		t.Fatalf("expected default NATS URL to be set")
	}
}
