// Package log provides the process-wide logger behind a small interface
// so the logging backend stays swappable.
package log

import (
	"sync"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

// Config controls the global logger. Pattern tokens: %time, %level,
// %field, %msg, %caller, %func, %goroutine, %n.
type Config struct {
	Level     string           `mapstructure:"level" yaml:"level"`
	Pattern   string           `mapstructure:"pattern" yaml:"pattern"`
	Time      string           `mapstructure:"time" yaml:"time"`
	Appenders []AppenderConfig `mapstructure:"appenders" yaml:"appenders"`
}

// AppenderConfig selects one log output. Type is "console" or "file";
// Options are decoded per appender type.
type AppenderConfig struct {
	Type    string                 `mapstructure:"type" yaml:"type"`
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// DefaultConfig returns an info-level console-only configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Pattern: "%time [%level] %caller: %field %msg%n",
		Time:    "2006-01-02 15:04:05",
		Appenders: []AppenderConfig{
			{Type: "console"},
		},
	}
}

var (
	mu     sync.Mutex
	logger Logger
)

// GetLogger returns the global logger, initializing it with defaults if
// Init has not run yet. Callers that log on hot paths should capture
// the returned value instead of calling GetLogger per message.
func GetLogger() Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		l, err := newAdapter(DefaultConfig())
		if err != nil {
			panic(err)
		}
		logger = l
	}
	return logger
}

// Init configures the global logger. The first successful call wins;
// later calls (and GetLogger's lazy default) are no-ops.
func Init(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		return nil
	}
	l, err := newAdapter(cfg)
	if err != nil {
		return err
	}
	logger = l
	return nil
}
