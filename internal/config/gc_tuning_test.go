package config

import "testing"

func TestValidateGCConfigRejectsOutOfRangePercent(t *testing.T) {
	cfg := &HFTGCConfig{GCPercent: 10, MemoryLimit: 1024, SoftMemoryLimit: 512, GCStatsInterval: 1}
	if err := ValidateGCConfig(cfg); err == nil {
		t.Fatal("expected error for gc_percent below minimum")
	}
}

func TestValidateGCConfigRejectsSoftLimitAboveHardLimit(t *testing.T) {
	cfg := &HFTGCConfig{GCPercent: 200, MemoryLimit: 512, SoftMemoryLimit: 1024, GCStatsInterval: 1}
	if err := ValidateGCConfig(cfg); err == nil {
		t.Fatal("expected error when soft_memory_limit >= memory_limit")
	}
}

func TestValidateGCConfigAcceptsDefaults(t *testing.T) {
	cfg := &HFTGCConfig{GCPercent: 200, MemoryLimit: 2147483648, SoftMemoryLimit: 1610612736, GCStatsInterval: 30}
	if err := ValidateGCConfig(cfg); err != nil {
		t.Fatalf("unexpected error for default config: %v", err)
	}
}

func TestGetMemoryStatsReturnsPopulatedMap(t *testing.T) {
	stats := GetMemoryStats()
	for _, key := range []string{"heap_alloc", "num_gc", "gc_cpu_fraction"} {
		if _, ok := stats[key]; !ok {
			t.Fatalf("expected key %q in memory stats", key)
		}
	}
}
