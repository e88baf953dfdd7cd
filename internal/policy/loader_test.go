package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistryMissingFileUsesDefaults(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	for _, id := range []string{"BASIC", "PRO", "ELITE"} {
		if _, err := reg.Resolve(id); err != nil {
			t.Errorf("default plan %s missing: %v", id, err)
		}
	}
}

func TestLoadRegistryFileOverridesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	body := `plans:
  - id: BASIC
    max_trades_per_day: 2
    max_risk_per_trade: 0.001
    allowed_instruments: [EQUITY]
    paper_trading_allowed: true
    execution_mode: PAPER_ONLY
  - id: TRIAL
    max_trades_per_day: 1
    max_risk_per_trade: 0.0005
    allowed_instruments: [EQUITY]
    paper_trading_allowed: true
    execution_mode: PAPER_ONLY
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	basic, err := reg.Resolve("BASIC")
	if err != nil {
		t.Fatalf("Resolve(BASIC): %v", err)
	}
	if basic.MaxTradesPerDay != 2 {
		t.Errorf("overridden max_trades_per_day = %d, want 2", basic.MaxTradesPerDay)
	}
	if _, err := reg.Resolve("TRIAL"); err != nil {
		t.Errorf("added plan TRIAL missing: %v", err)
	}
	// Defaults not named in the file survive.
	if _, err := reg.Resolve("PRO"); err != nil {
		t.Errorf("default plan PRO missing: %v", err)
	}
}

func TestLoadRegistryMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	if err := os.WriteFile(path, []byte("plans: [not-a-plan"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Error("expected parse error for malformed yaml")
	}
}

func TestNewRegistryRejectsBadMode(t *testing.T) {
	_, err := NewRegistry([]Plan{{ID: "X", ExecutionMode: "YOLO"}})
	if err == nil {
		t.Error("expected error for invalid execution_mode")
	}
}
