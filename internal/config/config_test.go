package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"orgline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.Tiers["critical"].Timeout.Std() != 5*time.Second || cfg.Scheduler.Tiers["low"].MaxConcurrent != 8 {
		t.Fatalf("tiers = %+v", cfg.Scheduler.Tiers)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.RecoveryTimeout.Std() != 30*time.Second {
		t.Fatalf("breaker = %+v", cfg.Breaker)
	}
	if cfg.Delegation.PriorityWeights["high"] != 1.2 || cfg.Delegation.DefaultEstimatedWorkload != 0.1 {
		t.Fatalf("delegation = %+v", cfg.Delegation)
	}
	if cfg.Fallback.ApproveOnFailure || cfg.Fallback.Reason != "insufficient information" {
		t.Fatalf("fallback = %+v", cfg.Fallback)
	}
	for _, r := range domain.Roles() {
		if len(cfg.Capabilities(r)) == 0 {
			t.Fatalf("role %s has no default capabilities", r)
		}
	}
	if len(cfg.Collaboration) != 7 {
		t.Fatalf("collaboration = %+v", cfg.Collaboration)
	}
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("company:\n  id: beta\nbreaker:\n  failure_threshold: 2\n  recovery_timeout: 100ms\n  half_open_max_calls: 1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Company.ID != "beta" || cfg.Breaker.RecoveryTimeout.Std() != 100*time.Millisecond {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Scheduler.Tiers["medium"].Weight != 2 {
		t.Fatalf("tiers lost their defaults")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing company":  "company:\n  id: \"\"\n",
		"bad tier":         "company: {id: x}\nscheduler:\n  tiers:\n    urgent: {weight: 9, timeout: 1s, max_concurrent: 1}\n",
		"zero concurrency": "company: {id: x}\nscheduler:\n  tiers:\n    high: {weight: 3, timeout: 1s, max_concurrent: 0}\n",
		"bad role":         "company: {id: x}\nactors:\n  intern: {capabilities: [coffee]}\n",
		"bad edge":         "company: {id: x}\ncollaboration:\n  - {from: ceo, to: intern}\n",
		"bad duration":     "company: {id: x}\nbreaker:\n  recovery_timeout: soon\n",
		"bad log level":    "company: {id: x}\nlog: {level: loud}\n",
		"webhook url":      "company: {id: x}\nwebhooks:\n  - {id: a}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "orgline init") {
		t.Fatalf("expected missing config hint, got %v", err)
	}
	if cfg, err := LoadOptional(dir); err != nil || cfg != nil {
		t.Fatalf("optional load = %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("acme")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	again, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Anomaly.Cooldown.Std() != 5*time.Minute || again.Company.ID != "acme" {
		t.Fatalf("round trip lost values: %+v", again.Anomaly)
	}
}
