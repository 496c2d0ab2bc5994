package clusterserver

import (
	"bytes"
	"context"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// LevelTrace is the slog level hclog trace messages are logged at.
const LevelTrace = slog.LevelDebug - 4

// hcLogger adapts slog.Logger to the hclog.Logger interface used by the
// hashicorp libraries.
type hcLogger struct {
	root    *slog.Logger
	logger  *slog.Logger
	name    string
	implied []any
}

// NewHCLogger returns an hclog.Logger writing to logger.
func NewHCLogger(logger *slog.Logger, name string) hclog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return newHCLogger(logger, name, nil)
}

func newHCLogger(root *slog.Logger, name string, implied []any) *hcLogger {
	logger := root
	if name != "" {
		logger = logger.With("subsystem", name)
	}
	if len(implied) > 0 {
		logger = logger.With(implied...)
	}
	return &hcLogger{root: root, logger: logger, name: name, implied: implied}
}

func toSlogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace:
		return LevelTrace
	case hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *hcLogger) Log(level hclog.Level, msg string, args ...any) {
	if level == hclog.Off {
		return
	}
	l.logger.Log(context.Background(), toSlogLevel(level), msg, args...)
}

func (l *hcLogger) Trace(msg string, args ...any) { l.Log(hclog.Trace, msg, args...) }
func (l *hcLogger) Debug(msg string, args ...any) { l.Log(hclog.Debug, msg, args...) }
func (l *hcLogger) Info(msg string, args ...any)  { l.Log(hclog.Info, msg, args...) }
func (l *hcLogger) Warn(msg string, args ...any)  { l.Log(hclog.Warn, msg, args...) }
func (l *hcLogger) Error(msg string, args ...any) { l.Log(hclog.Error, msg, args...) }

func (l *hcLogger) enabled(level hclog.Level) bool {
	return l.logger.Enabled(context.Background(), toSlogLevel(level))
}

func (l *hcLogger) IsTrace() bool { return l.enabled(hclog.Trace) }
func (l *hcLogger) IsDebug() bool { return l.enabled(hclog.Debug) }
func (l *hcLogger) IsInfo() bool  { return l.enabled(hclog.Info) }
func (l *hcLogger) IsWarn() bool  { return l.enabled(hclog.Warn) }
func (l *hcLogger) IsError() bool { return l.enabled(hclog.Error) }

func (l *hcLogger) ImpliedArgs() []any { return l.implied }

func (l *hcLogger) With(args ...any) hclog.Logger {
	return newHCLogger(l.root, l.name, append(append([]any(nil), l.implied...), args...))
}

func (l *hcLogger) Name() string { return l.name }

func (l *hcLogger) Named(name string) hclog.Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return l.ResetNamed(name)
}

func (l *hcLogger) ResetNamed(name string) hclog.Logger {
	return newHCLogger(l.root, name, l.implied)
}

// SetLevel is a no-op: the level belongs to the slog handler.
func (l *hcLogger) SetLevel(hclog.Level) {}

func (l *hcLogger) GetLevel() hclog.Level {
	for _, level := range []hclog.Level{hclog.Trace, hclog.Debug, hclog.Info, hclog.Warn, hclog.Error} {
		if l.enabled(level) {
			return level
		}
	}
	return hclog.Off
}

func (l *hcLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l *hcLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	if opts == nil {
		opts = &hclog.StandardLoggerOptions{}
	}
	return &stdWriter{logger: l, opts: *opts}
}

// stdWriter turns lines from a standard library logger into records.
type stdWriter struct {
	logger *hcLogger
	opts   hclog.StandardLoggerOptions
}

func (w *stdWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if msg := strings.TrimSpace(string(line)); msg != "" {
			level, text := w.parse(msg)
			w.logger.Log(level, text)
		}
	}
	return len(p), nil
}

// parse strips a "[LEVEL]" tag from msg. With InferLevelsWithTimestamp
// the tag may follow a timestamp.
func (w *stdWriter) parse(msg string) (hclog.Level, string) {
	if w.opts.ForceLevel != hclog.NoLevel {
		return w.opts.ForceLevel, msg
	}
	if !w.opts.InferLevels && !w.opts.InferLevelsWithTimestamp {
		return hclog.Info, msg
	}
	start := 0
	if w.opts.InferLevelsWithTimestamp {
		start = strings.IndexByte(msg, '[')
		if start < 0 {
			return hclog.Info, msg
		}
	}
	tag, rest, ok := strings.Cut(msg[start:], "]")
	if !ok || !strings.HasPrefix(tag, "[") {
		return hclog.Info, msg
	}
	rest = strings.TrimSpace(rest)
	switch tag[1:] {
	case "TRACE":
		return hclog.Trace, rest
	case "DEBUG":
		return hclog.Debug, rest
	case "INFO":
		return hclog.Info, rest
	case "WARN":
		return hclog.Warn, rest
	case "ERR", "ERROR":
		return hclog.Error, rest
	}
	return hclog.Info, msg
}
