package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
version: 1
sources:
  - id: evm_main
    type: evm
    rpc_url: ${RPC_URL}
rules:
  - id: r1
    source: evm_main
    match:
      type: storage_pair
      contract: "0x0"
    sinks: ["sink1"]
sinks:
  - id: sink1
    type: slack
    webhook_url: ${SLACK_HOOK}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	cfgPath := writeConfig(t, sampleYAML)

	t.Setenv("RPC_URL", "http://example-rpc")
	t.Setenv("SLACK_HOOK", "https://hooks.slack.test")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Sources[0].RPCURL; got != "http://example-rpc" {
		t.Fatalf("rpc_url not interpolated, got %q", got)
	}
	if got := cfg.Rules[0].Match.Slots; got != DefaultSlots {
		t.Fatalf("slots default not applied, got %q", got)
	}
	if cfg.Global.DBPath != DefaultDBPath {
		t.Fatalf("db_path default not applied, got %q", cfg.Global.DBPath)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	cfgPath := writeConfig(t, sampleYAML)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected missing env to fail")
	}
	if !strings.Contains(err.Error(), "RPC_URL") || !strings.Contains(err.Error(), "SLACK_HOOK") {
		t.Fatalf("expected both names in error, got %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	cfgPath := writeConfig(t, sampleYAML)
	env := "RPC_URL=http://dotenv-rpc\nSLACK_HOOK=https://hooks.dotenv\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfgPath), ".env"), []byte(env), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("RPC_URL")
		os.Unsetenv("SLACK_HOOK")
	})

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Sources[0].RPCURL; got != "http://dotenv-rpc" {
		t.Fatalf("rpc_url from .env not used, got %q", got)
	}
}

func TestRuleValidateRejectsSourceMismatch(t *testing.T) {
	cfg := &Config{
		Version: 1,
		Sources: []Source{{ID: "algo", Type: "algorand", AlgodURL: "a", IndexerURL: "i"}},
		Sinks:   []Sink{{ID: "out", Type: "stdout"}},
		Rules: []Rule{{
			ID:     "r1",
			Source: "algo",
			Match:  MatchSpec{Type: "storage_pair", Contract: "0x1"},
			Sinks:  []string{"out"},
		}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected storage_pair on algorand source to fail")
	}

	cfg.Rules[0].Match = MatchSpec{Type: "global_state", AppID: 42}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected global_state to validate: %v", err)
	}
}

func TestRuleValidateDedupeAndRateLimit(t *testing.T) {
	base := func() *Config {
		return &Config{
			Version: 1,
			Sources: []Source{{ID: "evm", Type: "evm", RPCURL: "http://x"}},
			Sinks:   []Sink{{ID: "out", Type: "stdout"}},
			Rules: []Rule{{
				ID:     "r1",
				Source: "evm",
				Match:  MatchSpec{Type: "storage_pair", Contract: "0x1", Slots: "3-4"},
				Sinks:  []string{"out"},
			}},
		}
	}

	cfg := base()
	cfg.Rules[0].Dedupe = &Dedupe{Key: "subject", TTL: "soon"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected bad ttl to fail")
	}

	cfg = base()
	cfg.Rules[0].RateLimit = &RateLimit{Capacity: 0, PerSecond: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero capacity to fail")
	}

	cfg = base()
	cfg.Rules[0].RateLimit = &RateLimit{Capacity: 2, PerSecond: 0.5}
	cfg.Rules[0].Dedupe = &Dedupe{Key: "subject:symbol", TTL: "1h"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid rule: %v", err)
	}
}

func TestParseSlotRange(t *testing.T) {
	tests := []struct {
		in       string
		from, to uint64
		wantErr  bool
	}{
		{in: "0-15", from: 0, to: 15},
		{in: "3", from: 3, to: 3},
		{in: " 2 - 5 ", from: 2, to: 5},
		{in: "5-2", wantErr: true},
		{in: "0-256", wantErr: true},
		{in: "x-1", wantErr: true},
		{in: "", wantErr: true},
		{in: "18446744073709551615", wantErr: true},
		{in: "18446744073709551600-18446744073709551615", wantErr: true},
		{in: "18446744073709551600-18446744073709551614", from: 18446744073709551600, to: 18446744073709551614},
	}
	for _, tt := range tests {
		from, to, err := ParseSlotRange(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSlotRange(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSlotRange(%q): %v", tt.in, err)
			continue
		}
		if from != tt.from || to != tt.to {
			t.Errorf("ParseSlotRange(%q) = %d-%d, want %d-%d", tt.in, from, to, tt.from, tt.to)
		}
	}
}
