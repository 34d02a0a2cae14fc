package server

import (
	"testing"
	"time"

	"github.com/unastar/bedrock-core/internal/ecs"
)

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.TickInterval != 50*time.Millisecond {
		t.Fatalf("expected default 50ms tick interval, got %v", cfg.TickInterval)
	}
	if cfg.OutboundCapacity != 1024 {
		t.Fatalf("expected default outbound capacity 1024, got %d", cfg.OutboundCapacity)
	}
	if cfg.ChunksPerTick != ecs.DefaultChunksPerTick {
		t.Fatalf("expected default chunks-per-tick %d, got %d", ecs.DefaultChunksPerTick, cfg.ChunksPerTick)
	}
	if cfg.UnloadGraceTicks != ecs.DefaultUnloadGraceTicks {
		t.Fatalf("expected default unload grace %d, got %d", ecs.DefaultUnloadGraceTicks, cfg.UnloadGraceTicks)
	}
	if cfg.SimulationDistance != ecs.DefaultSimulationDistance {
		t.Fatalf("expected default simulation distance %d, got %d", ecs.DefaultSimulationDistance, cfg.SimulationDistance)
	}
	if cfg.Log == nil {
		t.Fatal("expected a default logger to be constructed")
	}
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{TickInterval: 25 * time.Millisecond, OutboundCapacity: 8}.withDefaults()
	if cfg.TickInterval != 25*time.Millisecond {
		t.Fatalf("expected explicit tick interval to be preserved, got %v", cfg.TickInterval)
	}
	if cfg.OutboundCapacity != 8 {
		t.Fatalf("expected explicit outbound capacity to be preserved, got %d", cfg.OutboundCapacity)
	}
}
