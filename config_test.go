package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigLayering(t *testing.T) {
	t.Setenv("ADDR", ":9000")
	t.Setenv("DB", "env.db")
	t.Setenv("STEP_TIMEOUT", "45s")
	t.Setenv("LOG_WS", "true")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"db": "file.db", "step_timeout": "2m", "registry_dir": "/etc/werewolf"}`), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Errorf("Expected env addr :9000, got %s", cfg.Addr)
	}
	if cfg.DB != "file.db" {
		t.Errorf("Expected the JSON file to override DB, got %s", cfg.DB)
	}
	if cfg.StepTimeout != 2*time.Minute {
		t.Errorf("Expected step timeout 2m from the file, got %s", cfg.StepTimeout)
	}
	if !cfg.LogWS {
		t.Errorf("Expected LOG_WS from env to stay set")
	}
	if cfg.RegistryDir != "/etc/werewolf" {
		t.Errorf("Expected registry dir from the file, got %q", cfg.RegistryDir)
	}
	if cfg.StorytellerOllamaURL != "http://localhost:11434" {
		t.Errorf("Expected the default Ollama URL, got %s", cfg.StorytellerOllamaURL)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fv := registerFlags(fs)
	if err := fs.Parse([]string{"-addr", ":7000", "-step-timeout", "10s"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fv.applyTo(fs, &cfg)
	if cfg.Addr != ":7000" {
		t.Errorf("Expected the flag to win for addr, got %s", cfg.Addr)
	}
	if cfg.StepTimeout != 10*time.Second {
		t.Errorf("Expected the flag to win for step timeout, got %s", cfg.StepTimeout)
	}
	if cfg.DB != "file.db" {
		t.Errorf("Expected unset flags to leave DB alone, got %s", cfg.DB)
	}
}

func TestConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Expected a missing file to be fine, got %v", err)
	}
	if cfg.Addr != ":8080" || cfg.StepTimeout != 0 {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestConfigBadDurationIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"step_timeout": "soon"}`), 0o644)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.StepTimeout != 0 {
		t.Errorf("Expected an unparsable duration to be ignored, got %s", cfg.StepTimeout)
	}
}

func TestConfigDeviceFlags(t *testing.T) {
	cfg := defaultConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fv := registerFlags(fs)
	fs.Parse([]string{"-device", "ws://host:8080/ws", "-token", "abc"})
	fv.applyTo(fs, &cfg)
	if cfg.Device != "ws://host:8080/ws" || cfg.DeviceToken != "abc" {
		t.Errorf("Expected device mode settings, got %q %q", cfg.Device, cfg.DeviceToken)
	}
	if lc := cfg.toLogConfig(); lc.LogWS || lc.Debug {
		t.Errorf("Expected extended logging off by default, got %+v", lc)
	}
}
