// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/textcast/internal/core"
	"firestige.xyz/textcast/internal/log"
	"firestige.xyz/textcast/pkg/castwire"
)

// Config is the top-level static configuration, mapped to the
// `textcast:` root key in YAML.
type Config struct {
	Device     DeviceConfig     `mapstructure:"device" yaml:"device"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	History    HistoryConfig    `mapstructure:"history" yaml:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        log.Config       `mapstructure:"log" yaml:"log"`
}

// DeviceConfig identifies the display device.
type DeviceConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	Name string `mapstructure:"name" yaml:"name"`
}

// Target returns the device as a core.DeviceTarget.
func (d DeviceConfig) Target() core.DeviceTarget {
	return core.DeviceTarget{Host: d.Host, Port: d.Port, Name: d.Name}
}

// ControllerConfig tunes the session controller.
type ControllerConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	RestoreTimeout time.Duration `mapstructure:"restore_timeout" yaml:"restore_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
	ReceiverAppID  string        `mapstructure:"receiver_app_id" yaml:"receiver_app_id"`
	MaxTextLen     int           `mapstructure:"max_text_len" yaml:"max_text_len"`
}

// MarshalYAML renders durations in their "10s" form so the effective
// configuration dump reads back as valid config input.
func (c ControllerConfig) MarshalYAML() (interface{}, error) {
	return struct {
		ConnectTimeout string `yaml:"connect_timeout"`
		SendTimeout    string `yaml:"send_timeout"`
		RestoreTimeout string `yaml:"restore_timeout"`
		QueryTimeout   string `yaml:"query_timeout"`
		ReceiverAppID  string `yaml:"receiver_app_id"`
		MaxTextLen     int    `yaml:"max_text_len"`
	}{
		ConnectTimeout: c.ConnectTimeout.String(),
		SendTimeout:    c.SendTimeout.String(),
		RestoreTimeout: c.RestoreTimeout.String(),
		QueryTimeout:   c.QueryTimeout.String(),
		ReceiverAppID:  c.ReceiverAppID,
		MaxTextLen:     c.MaxTextLen,
	}, nil
}

// HTTPConfig configures the API server and the URL the device loads.
type HTTPConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	// AdvertiseHost is the address the device uses to reach this
	// process. Empty means auto-detect from the route to the device.
	AdvertiseHost string `mapstructure:"advertise_host" yaml:"advertise_host"`
	MaxConns      int    `mapstructure:"max_conns" yaml:"max_conns"`
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// CaptureConfig configures the packet observation pipeline.
type CaptureConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Interface       string        `mapstructure:"interface" yaml:"interface"` // empty = "any" pseudo-device
	SnapLen         int           `mapstructure:"snap_len" yaml:"snap_len"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	ChannelCapacity int           `mapstructure:"channel_capacity" yaml:"channel_capacity"`
	Window          int           `mapstructure:"window" yaml:"window"` // recent packets kept in memory
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// MarshalYAML renders durations in their "1s" form, same reason as
// ControllerConfig.
func (c CaptureConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Enabled         bool   `yaml:"enabled"`
		Interface       string `yaml:"interface"`
		SnapLen         int    `yaml:"snap_len"`
		PollTimeout     string `yaml:"poll_timeout"`
		ChannelCapacity int    `yaml:"channel_capacity"`
		Window          int    `yaml:"window"`
		BatchSize       int    `yaml:"batch_size"`
		FlushInterval   string `yaml:"flush_interval"`
	}{
		Enabled:         c.Enabled,
		Interface:       c.Interface,
		SnapLen:         c.SnapLen,
		PollTimeout:     c.PollTimeout.String(),
		ChannelCapacity: c.ChannelCapacity,
		Window:          c.Window,
		BatchSize:       c.BatchSize,
		FlushInterval:   c.FlushInterval.String(),
	}, nil
}

// HistoryConfig configures the SQLite history store.
type HistoryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Path        string `mapstructure:"path" yaml:"path"`
	RecentLimit int    `mapstructure:"recent_limit" yaml:"recent_limit"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// configRoot is the top-level wrapper matching the YAML structure `textcast: ...`.
type configRoot struct {
	Textcast Config `mapstructure:"textcast"`
}

// Load loads configuration from file.
// The YAML file uses `textcast:` as root key; env vars use the TEXTCAST_
// prefix (e.g., TEXTCAST_DEVICE_HOST, TEXTCAST_LOG_LEVEL).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides. No explicit env prefix: the
	// `textcast.` key prefix naturally maps to `TEXTCAST_` via the key
	// replacer (key "textcast.device.host" matches env
	// "TEXTCAST_DEVICE_HOST").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Textcast

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "textcast." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("textcast.device.port", 8009)

	// Controller defaults
	v.SetDefault("textcast.controller.connect_timeout", "10s")
	v.SetDefault("textcast.controller.send_timeout", "5s")
	v.SetDefault("textcast.controller.restore_timeout", "5s")
	v.SetDefault("textcast.controller.query_timeout", "2s")
	v.SetDefault("textcast.controller.receiver_app_id", castwire.AppDashCast)
	v.SetDefault("textcast.controller.max_text_len", 4096)

	// HTTP defaults
	v.SetDefault("textcast.http.listen", ":5001")
	v.SetDefault("textcast.http.max_conns", 64)

	// Capture defaults
	v.SetDefault("textcast.capture.enabled", true)
	v.SetDefault("textcast.capture.snap_len", 1600)
	v.SetDefault("textcast.capture.poll_timeout", "1s")
	v.SetDefault("textcast.capture.channel_capacity", 4096)
	v.SetDefault("textcast.capture.window", 50)
	v.SetDefault("textcast.capture.batch_size", 16)
	v.SetDefault("textcast.capture.flush_interval", "1s")

	// History defaults
	v.SetDefault("textcast.history.enabled", true)
	v.SetDefault("textcast.history.path", "textcast.db")
	v.SetDefault("textcast.history.recent_limit", 500)

	// Metrics defaults
	v.SetDefault("textcast.metrics.enabled", true)
	v.SetDefault("textcast.metrics.listen", ":9091")
	v.SetDefault("textcast.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("textcast.log.level", "info")
	v.SetDefault("textcast.log.pattern", "%time [%level] %caller: %field %msg%n")
	v.SetDefault("textcast.log.time", "2006-01-02 15:04:05")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults that need more than a static value.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Device validation ──
	if cfg.Device.Host == "" {
		return fmt.Errorf("%w: device.host is required", core.ErrConfigInvalid)
	}
	if cfg.Device.Port <= 0 || cfg.Device.Port > 65535 {
		return fmt.Errorf("%w: device.port %d out of range", core.ErrConfigInvalid, cfg.Device.Port)
	}

	// ── Controller validation ──
	if cfg.Controller.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: controller.connect_timeout must be positive", core.ErrConfigInvalid)
	}
	if cfg.Controller.SendTimeout <= 0 {
		return fmt.Errorf("%w: controller.send_timeout must be positive", core.ErrConfigInvalid)
	}
	if cfg.Controller.MaxTextLen <= 0 {
		cfg.Controller.MaxTextLen = 4096
	}
	if cfg.Controller.ReceiverAppID == "" {
		cfg.Controller.ReceiverAppID = castwire.AppDashCast
	}

	// ── Capture validation ──
	if cfg.Capture.Interface == "" {
		// The "any" pseudo-device captures without naming an interface.
		cfg.Capture.Interface = "any"
	}
	if cfg.Capture.Window <= 0 {
		cfg.Capture.Window = 50
	}
	if cfg.Capture.BatchSize <= 0 {
		cfg.Capture.BatchSize = 16
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 1600
	}

	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if len(cfg.Log.Appenders) == 0 {
		cfg.Log.Appenders = []log.AppenderConfig{{Type: "console"}}
	}

	// ── Advertise host resolution ──
	if cfg.HTTP.AdvertiseHost == "" {
		host, err := resolveAdvertiseHost(cfg.Device.Host, cfg.Device.Port)
		if err != nil {
			return err
		}
		cfg.HTTP.AdvertiseHost = host
	}

	return nil
}

// resolveAdvertiseHost finds the local address the device can reach us
// on. A UDP dial toward the device picks the outbound interface without
// sending anything; if that fails, fall back to the first usable
// interface address.
func resolveAdvertiseHost(deviceHost string, devicePort int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(deviceHost, fmt.Sprintf("%d", devicePort)))
	if err == nil {
		local := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		return local.IP.String(), nil
	}

	// Auto-detect: first non-loopback, non-link-local IPv4.
	ifaces, ifErr := net.Interfaces()
	if ifErr != nil {
		return "", fmt.Errorf("cannot resolve advertise host: %w", ifErr)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, addrErr := iface.Addrs()
		if addrErr != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			// Skip link-local 169.254.x.x
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve advertise host: set TEXTCAST_HTTP_ADVERTISE_HOST or textcast.http.advertise_host")
}
