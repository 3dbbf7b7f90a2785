package telemetry

import (
	"context"
	"testing"
)

func TestHealthCollector_Snapshot(t *testing.T) {
	hc := NewHealthCollector(".")
	snap := hc.Snapshot(context.Background(), map[string]bool{"openai": true})
	if snap.UptimeSeconds < 0 {
		t.Fatalf("UptimeSeconds = %v, want >= 0", snap.UptimeSeconds)
	}
	if !snap.Providers["openai"] {
		t.Fatal("expected providers map to be carried through unchanged")
	}
}

func TestNewHealthCollector_DefaultsDiskPath(t *testing.T) {
	hc := NewHealthCollector("")
	if hc.diskPath != "/" {
		t.Fatalf("diskPath = %q, want \"/\"", hc.diskPath)
	}
}
