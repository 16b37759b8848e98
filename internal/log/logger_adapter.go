package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

type logrusAdapter struct {
	entry *logrus.Entry
}

func newAdapter(cfg *Config) (Logger, error) {
	l := logrus.New()
	// Caller resolution is not free, only pay for it when the pattern
	// asks. The formatter walks the frames itself; logrus's
	// SetReportCaller would stop at this adapter, not the log site.
	l.SetFormatter(&formatter{
		pattern:     cfg.Pattern,
		time:        cfg.Time,
		needsCaller: strings.Contains(cfg.Pattern, "%caller") || strings.Contains(cfg.Pattern, "%func"),
	})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	l.SetLevel(level)

	out, err := buildAppenders(cfg.Appenders)
	if err != nil {
		return nil, err
	}
	l.SetOutput(out)

	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

// buildAppenders assembles the MultiWriter from appender configs.
// An empty list falls back to console output.
func buildAppenders(configs []AppenderConfig) (*MultiWriter, error) {
	w := NewMultiWriter()
	if len(configs) == 0 {
		return w.Add(os.Stdout), nil
	}

	for _, ac := range configs {
		switch ac.Type {
		case "console":
			w.Add(os.Stdout)
		case "file":
			var opts FileAppenderOpt
			if err := mapstructure.Decode(ac.Options, &opts); err != nil {
				return nil, fmt.Errorf("decode file appender options: %w", err)
			}
			if opts.Filename == "" {
				return nil, fmt.Errorf("file appender requires a filename")
			}
			w.AddFileAppender(opts)
		default:
			return nil, fmt.Errorf("unknown appender type %q", ac.Type)
		}
	}
	return w, nil
}

func (l *logrusAdapter) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

func (l *logrusAdapter) Info(args ...interface{})                 { l.entry.Info(args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

func (l *logrusAdapter) Warn(args ...interface{})                 { l.entry.Warn(args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

func (l *logrusAdapter) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *logrusAdapter) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
