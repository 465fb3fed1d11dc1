package config

import (
	"testing"
	"time"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	if v := envStr("TEST_STR", "fallback"); v != "value" {
		t.Fatalf("expected value, got %q", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback on invalid value, got %d", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	if v := envDuration("TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback on invalid duration, got %s", v)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", "a, b ,c")
	got := envList("TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected list: %v", got)
	}
	fallback := []string{"x"}
	if got := envList("TEST_LIST_MISSING", fallback); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected fallback, got %v", got)
	}
	t.Setenv("TEST_LIST_EMPTY", " , ,")
	if got := envList("TEST_LIST_EMPTY", fallback); len(got) != 1 || got[0] != "x" {
		t.Fatalf("expected fallback for blank entries, got %v", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.ViableMin != 85 || cfg.AdjustMin != 50 {
		t.Fatalf("unexpected default thresholds: %d/%d", cfg.ViableMin, cfg.AdjustMin)
	}
}

func TestValidateThresholds(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	cfg.AdjustMin = cfg.ViableMin
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when AdjustMin >= ViableMin")
	}

	cfg.AdjustMin = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative AdjustMin")
	}

	cfg.ViableMin = 120
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ViableMin above 100")
	}
}

func TestValidateTimeouts(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	cfg.ProjectTimeout = cfg.AgentTimeout / 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when project timeout is below agent timeout")
	}

	cfg.AgentTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero agent timeout")
	}
}
