package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	appdefaults "github.com/omnitutor/tutor-server/config"
)

func writeConf(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestEmbeddedDefaultsAreWellFormed(t *testing.T) {
	var raw map[string]any
	if err := yaml.Unmarshal(appdefaults.Default, &raw); err != nil {
		t.Fatalf("embedded conf.yaml does not parse: %v", err)
	}
	if raw["audio_sample_rate"] != 24000 {
		t.Fatalf("audio_sample_rate=%v, want 24000", raw["audio_sample_rate"])
	}
	if raw["audio_frame_samples"] != 4096 {
		t.Fatalf("audio_frame_samples=%v, want 4096", raw["audio_frame_samples"])
	}
	if _, ok := raw["log"]; !ok {
		t.Fatal("embedded defaults missing log block")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "system_config:\n  host: \"\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AudioSampleRate != 24000 || cfg.AudioChannels != 1 || cfg.AudioFrameSamples != 4096 {
		t.Fatalf("audio defaults=%d/%d/%d, want 24000/1/4096",
			cfg.AudioSampleRate, cfg.AudioChannels, cfg.AudioFrameSamples)
	}
	if cfg.HTTPAddr != ":8101" {
		t.Fatalf("HTTPAddr=%q, want :8101", cfg.HTTPAddr)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level=%q, want info", cfg.Log.Level)
	}
}

func TestLoadConfigDerivedAddr(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "system_config:\n  host: 127.0.0.1\n  port: 9000\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("HTTPAddr=%q, want 127.0.0.1:9000", cfg.HTTPAddr)
	}
}

func TestLoadConfigSystemOverlay(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, `
system_config:
  realtime_backend_url: wss://backend.example
  realtime_access_token: system-token
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RealtimeBackendURL != "wss://backend.example" {
		t.Fatalf("backend url=%q, want system overlay value", cfg.RealtimeBackendURL)
	}
	if cfg.RealtimeAccessToken != "system-token" {
		t.Fatalf("token=%q, want system overlay value", cfg.RealtimeAccessToken)
	}
}

func TestTopLevelWinsOverSystemConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, `
realtime_backend_url: wss://top.example
system_config:
  realtime_backend_url: wss://system.example
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RealtimeBackendURL != "wss://top.example" {
		t.Fatalf("backend url=%q, want top-level value", cfg.RealtimeBackendURL)
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "system_config:\n  port: 9000\n")

	t.Setenv("TUTOR_HTTP_ADDR", ":7777")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Fatalf("HTTPAddr=%q, want env override", cfg.HTTPAddr)
	}
}

func TestDerivedPathsRootedAtConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "system_config: {}\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := filepath.Join(dir, "data", "mcps.json")
	if cfg.MCPRegistryPath != want {
		t.Fatalf("MCPRegistryPath=%q, want %q", cfg.MCPRegistryPath, want)
	}
	if !filepath.IsAbs(cfg.TranscriptsDir) {
		t.Fatalf("TranscriptsDir=%q, want absolute", cfg.TranscriptsDir)
	}
}
