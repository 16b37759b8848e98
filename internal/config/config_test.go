package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/pkg/castwire"
)

func TestLoadValidConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  device:
    host: "10.21.4.50"
    name: "Living Room TV"
  controller:
    connect_timeout: 15s
    send_timeout: 3s
    max_text_len: 2048
  http:
    listen: ":8080"
    advertise_host: "10.21.4.2"
    max_conns: 32
  capture:
    enabled: true
    interface: "eth0"
    snap_len: 2048
    window: 100
  history:
    enabled: true
    path: "/tmp/textcast-test.db"
    recent_limit: 250
  metrics:
    enabled: false
  log:
    level: "debug"
    appenders:
      - type: "console"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Load config
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Validate loaded values
	if cfg.Device.Host != "10.21.4.50" {
		t.Errorf("Expected device host 10.21.4.50, got %s", cfg.Device.Host)
	}
	if cfg.Device.Port != 8009 {
		t.Errorf("Expected default device port 8009, got %d", cfg.Device.Port)
	}
	if cfg.Device.Name != "Living Room TV" {
		t.Errorf("Expected device name Living Room TV, got %s", cfg.Device.Name)
	}
	if cfg.Controller.ConnectTimeout != 15*time.Second {
		t.Errorf("Expected connect timeout 15s, got %v", cfg.Controller.ConnectTimeout)
	}
	if cfg.Controller.SendTimeout != 3*time.Second {
		t.Errorf("Expected send timeout 3s, got %v", cfg.Controller.SendTimeout)
	}
	if cfg.Controller.MaxTextLen != 2048 {
		t.Errorf("Expected max text len 2048, got %d", cfg.Controller.MaxTextLen)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("Expected http listen :8080, got %s", cfg.HTTP.Listen)
	}
	if cfg.HTTP.AdvertiseHost != "10.21.4.2" {
		t.Errorf("Expected advertise host 10.21.4.2, got %s", cfg.HTTP.AdvertiseHost)
	}
	if cfg.Capture.Interface != "eth0" {
		t.Errorf("Expected capture interface eth0, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.SnapLen != 2048 {
		t.Errorf("Expected snap len 2048, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.Window != 100 {
		t.Errorf("Expected window 100, got %d", cfg.Capture.Window)
	}
	if cfg.History.RecentLimit != 250 {
		t.Errorf("Expected history recent limit 250, got %d", cfg.History.RecentLimit)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	// Minimal config without optional fields. The loopback device host
	// makes advertise host resolution deterministic.
	configContent := `
textcast:
  device:
    host: "127.0.0.1"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Check defaults
	if cfg.Device.Port != 8009 {
		t.Errorf("Expected default device port 8009, got %d", cfg.Device.Port)
	}
	if cfg.Controller.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected default connect timeout 10s, got %v", cfg.Controller.ConnectTimeout)
	}
	if cfg.Controller.SendTimeout != 5*time.Second {
		t.Errorf("Expected default send timeout 5s, got %v", cfg.Controller.SendTimeout)
	}
	if cfg.Controller.MaxTextLen != 4096 {
		t.Errorf("Expected default max text len 4096, got %d", cfg.Controller.MaxTextLen)
	}
	if cfg.Controller.ReceiverAppID != castwire.AppDashCast {
		t.Errorf("Expected default receiver app id %s, got %s", castwire.AppDashCast, cfg.Controller.ReceiverAppID)
	}
	if cfg.HTTP.Listen != ":5001" {
		t.Errorf("Expected default http listen :5001, got %s", cfg.HTTP.Listen)
	}
	if !cfg.Capture.Enabled {
		t.Error("Expected capture enabled by default")
	}
	if cfg.Capture.Interface != "any" {
		t.Errorf("Expected default capture interface any, got %s", cfg.Capture.Interface)
	}
	if cfg.Capture.SnapLen != 1600 {
		t.Errorf("Expected default snap len 1600, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.Window != 50 {
		t.Errorf("Expected default window 50, got %d", cfg.Capture.Window)
	}
	if cfg.Capture.BatchSize != 16 {
		t.Errorf("Expected default batch size 16, got %d", cfg.Capture.BatchSize)
	}
	if cfg.Capture.FlushInterval != time.Second {
		t.Errorf("Expected default flush interval 1s, got %v", cfg.Capture.FlushInterval)
	}
	if cfg.History.RecentLimit != 500 {
		t.Errorf("Expected default recent limit 500, got %d", cfg.History.RecentLimit)
	}
	if cfg.Metrics.Listen != ":9091" {
		t.Errorf("Expected default metrics listen :9091, got %s", cfg.Metrics.Listen)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Log.Level)
	}
	if len(cfg.Log.Appenders) != 1 || cfg.Log.Appenders[0].Type != "console" {
		t.Errorf("Expected default console appender, got %v", cfg.Log.Appenders)
	}
	// Advertise host resolves via the route to the loopback device.
	if cfg.HTTP.AdvertiseHost != "127.0.0.1" {
		t.Errorf("Expected advertise host 127.0.0.1, got %s", cfg.HTTP.AdvertiseHost)
	}
}

func TestEffectiveConfigRoundTripsThroughYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  device:
    host: "127.0.0.1"
  controller:
    connect_timeout: 15s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Same shape the validate command dumps.
	out, err := yaml.Marshal(struct {
		Textcast *Config `yaml:"textcast"`
	}{cfg})
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}

	rendered := string(out)
	if !strings.Contains(rendered, "connect_timeout: 15s") {
		t.Errorf("Expected connect_timeout rendered as 15s, got:\n%s", rendered)
	}
	if !strings.Contains(rendered, "flush_interval: 1s") {
		t.Errorf("Expected flush_interval rendered as 1s, got:\n%s", rendered)
	}
	if strings.Contains(rendered, "000000000") {
		t.Errorf("Durations rendered as nanosecond integers:\n%s", rendered)
	}

	// The dump must load back to the same effective values.
	dumpPath := filepath.Join(tmpDir, "dump.yml")
	if err := os.WriteFile(dumpPath, out, 0644); err != nil {
		t.Fatalf("Failed to write dump: %v", err)
	}
	reloaded, err := Load(dumpPath)
	if err != nil {
		t.Fatalf("Failed to reload dumped config: %v", err)
	}
	if reloaded.Controller.ConnectTimeout != 15*time.Second {
		t.Errorf("Expected reloaded connect timeout 15s, got %v", reloaded.Controller.ConnectTimeout)
	}
	if reloaded.Capture.FlushInterval != cfg.Capture.FlushInterval {
		t.Errorf("Expected reloaded flush interval %v, got %v", cfg.Capture.FlushInterval, reloaded.Capture.FlushInterval)
	}
}

func TestLoadMissingDeviceHost(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  log:
    level: "info"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for missing device host, got nil")
	}
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadInvalidDevicePort(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  device:
    host: "127.0.0.1"
    port: 70000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for out-of-range device port, got nil")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  device:
    host: "127.0.0.1"
  log:
    level: "invalid"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Expected error for invalid log level, got nil")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")

	configContent := `
textcast:
  device:
    host: "127.0.0.1"
  log:
    level: "info"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	// Set environment variable to override log level
	os.Setenv("TEXTCAST_LOG_LEVEL", "debug")
	defer os.Unsetenv("TEXTCAST_LOG_LEVEL")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Log level should be overridden by environment variable
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	if err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestDeviceTarget(t *testing.T) {
	d := DeviceConfig{Host: "10.0.0.5", Port: 8009, Name: "tv"}
	target := d.Target()
	if target.Addr() != "10.0.0.5:8009" {
		t.Errorf("Expected 10.0.0.5:8009, got %s", target.Addr())
	}
}
