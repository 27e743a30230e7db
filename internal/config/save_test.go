package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &SchedulerConfig{
		Concurrency: 2,
		Attempts:    3,
		Workers: map[string]WorkerConfig{
			"worker-1": {Concurrency: 2},
		},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded SchedulerConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}

	if loaded.Workers["worker-1"].Concurrency != 2 {
		t.Errorf("Expected worker-1 concurrency 2, got %d", loaded.Workers["worker-1"].Concurrency)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	cfg := &SchedulerConfig{Workers: map[string]WorkerConfig{}}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}

	parentDir := filepath.Dir(path)
	if _, err := os.Stat(parentDir); os.IsNotExist(err) {
		t.Fatalf("Parent directory was not created: %s", parentDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := &SchedulerConfig{
		Concurrency: 4,
		Attempts:    3,
		RetryBackoff: RetryBackoffConfig{
			InitialInterval: "50ms",
			Multiplier:      2,
		},
		Workers: map[string]WorkerConfig{
			"worker-a": {Concurrency: 2, Locality: map[string]int{"build": 5}},
			"worker-b": {Concurrency: 1},
		},
	}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Concurrency != 4 {
		t.Errorf("Concurrency mismatch: got %d", loaded.Concurrency)
	}
	if loaded.Workers["worker-a"].Locality["build"] != 5 {
		t.Errorf("worker-a locality mismatch: got %v", loaded.Workers["worker-a"].Locality)
	}
	if loaded.RetryBackoff.InitialInterval != "50ms" {
		t.Errorf("RetryBackoff.InitialInterval mismatch: got %q", loaded.RetryBackoff.InitialInterval)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := &SchedulerConfig{Workers: map[string]WorkerConfig{"worker-1": {Concurrency: 1}}}
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	cfg2 := &SchedulerConfig{Workers: map[string]WorkerConfig{"worker-1": {Concurrency: 9}}}
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded SchedulerConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}

	if loaded.Workers["worker-1"].Concurrency != 9 {
		t.Errorf("Expected 9, got %d", loaded.Workers["worker-1"].Concurrency)
	}
}
