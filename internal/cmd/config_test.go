package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`contest:
  question_count: 10
  min_submit_interval: 90s
outbox:
  fallback_interval: 15s
  batch_size: 50
gateway:
  presence_interval: 5s
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Contest.QuestionCount != 10 {
		t.Fatalf("question count = %d, want 10", config.Contest.QuestionCount)
	}
	if config.Contest.MinSubmitInterval.Duration != 90*time.Second {
		t.Fatalf("submit interval = %v, want 90s", config.Contest.MinSubmitInterval.Duration)
	}
	if config.Outbox.FallbackInterval.Duration != 15*time.Second {
		t.Fatalf("fallback interval = %v, want 15s", config.Outbox.FallbackInterval.Duration)
	}
	if config.Gateway.PresenceInterval.Duration != 5*time.Second {
		t.Fatalf("presence interval = %v, want 5s", config.Gateway.PresenceInterval.Duration)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("contest:\n  min_submit_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("bad duration must fail to load")
	}
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Contest.MinSubmitInterval.Duration != 0 {
		t.Fatalf("config = %+v, want zero values", config)
	}
}
