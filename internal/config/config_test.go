package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Queue.MaxConcurrency != 3 {
		t.Fatalf("MaxConcurrency: want=3 got=%d", cfg.Queue.MaxConcurrency)
	}
	if cfg.Queue.MaxPriority != 5 || cfg.Queue.DefaultPriority != 3 {
		t.Fatalf("priority defaults: %+v", cfg.Queue)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts: want=3 got=%d", cfg.Queue.MaxAttempts)
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Fatalf("PollInterval: got %v", cfg.PollInterval())
	}
	if cfg.RetryBaseDelay() != 2*time.Second || cfg.RetryMaxDelay() != time.Minute {
		t.Fatalf("retry delays: base=%v max=%v", cfg.RetryBaseDelay(), cfg.RetryMaxDelay())
	}
	if cfg.Video.Width != 1080 || cfg.Video.Height != 1920 {
		t.Fatalf("video resolution: %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if cfg.Queue.MaxConcurrency != 3 {
		t.Fatalf("missing file must yield defaults, got %+v", cfg.Queue)
	}
}

func TestLoadOverridesAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("queue:\n  max_concurrency: 8\n  max_attempts: 5\nvideo:\n  fps: 24\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxConcurrency != 8 || cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("overrides not applied: %+v", cfg.Queue)
	}
	if cfg.Video.FPS != 24 {
		t.Fatalf("video fps override not applied: %d", cfg.Video.FPS)
	}
	// unset values still get defaults
	if cfg.Queue.MaxPriority != 5 || cfg.Video.Width != 1080 {
		t.Fatalf("defaults not backfilled: %+v", cfg)
	}
}

func TestRetryJitterDefaultsAndExplicitZero(t *testing.T) {
	if got := Default().RetryJitter(); got != 0.25 {
		t.Fatalf("default jitter: want=0.25 got=%v", got)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  retry_jitter_pct: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.RetryJitter(); got != 0 {
		t.Fatalf("explicit zero jitter: want=0 got=%v", got)
	}

	if err := os.WriteFile(path, []byte("queue:\n  max_attempts: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.RetryJitter(); got != 0.25 {
		t.Fatalf("absent jitter key: want=0.25 got=%v", got)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("queue: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
