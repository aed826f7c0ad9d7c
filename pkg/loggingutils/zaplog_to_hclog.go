package loggingutils

import (
	"fmt"
	"io"
	"log"

	hclog "github.com/hashicorp/go-hclog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewHclog2ZapLogger(z *zap.Logger) hclog.Logger {
	return hclog2ZapLogger{zap: z}
}

// NewStdLogger returns a *log.Logger that routes through zap, for libraries like
// serf and memberlist that only accept the standard logger. Level prefixes such
// as "[WARN]" are honoured.
func NewStdLogger(z *zap.Logger) *log.Logger {
	return NewHclog2ZapLogger(z).StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
}

// hclog2ZapLogger implements Hashicorp's hclog.Logger interface using Uber's zap.Logger.
type hclog2ZapLogger struct {
	zap  *zap.Logger
	name string
	args []interface{}
}

// Log emits a message and key/value pairs at the provided level.
func (l hclog2ZapLogger) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.Debug(msg, args...)
	case hclog.Info, hclog.NoLevel:
		l.Info(msg, args...)
	case hclog.Warn:
		l.Warn(msg, args...)
	case hclog.Error:
		l.Error(msg, args...)
	}
}

func (l hclog2ZapLogger) Name() string { return l.name }

// Trace is folded into debug, zap has no trace level.
func (l hclog2ZapLogger) Trace(msg string, args ...interface{}) {
	l.zap.Debug(msg, argsToFields(args...)...)
}

func (l hclog2ZapLogger) Debug(msg string, args ...interface{}) {
	l.zap.Debug(msg, argsToFields(args...)...)
}

func (l hclog2ZapLogger) Info(msg string, args ...interface{}) {
	l.zap.Info(msg, argsToFields(args...)...)
}

func (l hclog2ZapLogger) Warn(msg string, args ...interface{}) {
	l.zap.Warn(msg, argsToFields(args...)...)
}

func (l hclog2ZapLogger) Error(msg string, args ...interface{}) {
	l.zap.Error(msg, argsToFields(args...)...)
}

func (l hclog2ZapLogger) IsTrace() bool { return l.zap.Core().Enabled(zapcore.DebugLevel) }
func (l hclog2ZapLogger) IsDebug() bool { return l.zap.Core().Enabled(zapcore.DebugLevel) }
func (l hclog2ZapLogger) IsInfo() bool  { return l.zap.Core().Enabled(zapcore.InfoLevel) }
func (l hclog2ZapLogger) IsWarn() bool  { return l.zap.Core().Enabled(zapcore.WarnLevel) }
func (l hclog2ZapLogger) IsError() bool { return l.zap.Core().Enabled(zapcore.ErrorLevel) }

func (l hclog2ZapLogger) ImpliedArgs() []interface{} {
	return l.args
}

func (l hclog2ZapLogger) With(args ...interface{}) hclog.Logger {
	implied := append(append([]interface{}{}, l.args...), args...)
	return hclog2ZapLogger{zap: l.zap.With(argsToFields(args...)...), name: l.name, args: implied}
}

func (l hclog2ZapLogger) Named(name string) hclog.Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return hclog2ZapLogger{zap: l.zap.Named(name), name: full, args: l.args}
}

// ResetNamed can't drop zap's existing name, so only the reported name changes.
func (l hclog2ZapLogger) ResetNamed(name string) hclog.Logger {
	return hclog2ZapLogger{zap: l.zap, name: name, args: l.args}
}

// SetLevel is a no-op, the level belongs to the zap core.
func (l hclog2ZapLogger) SetLevel(level hclog.Level) {}

func (l hclog2ZapLogger) GetLevel() hclog.Level {
	switch {
	case l.IsDebug():
		return hclog.Debug
	case l.IsInfo():
		return hclog.Info
	case l.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (l hclog2ZapLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l hclog2ZapLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	inferLevels := opts != nil && opts.InferLevels
	return &loggerWriter{logger: l.zap, inferLevels: inferLevels}
}

// Hclog has key-->values in the array as i=key i+1=value
func argsToFields(args ...interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		if i+1 >= len(args) {
			fields = append(fields, zap.String("EXTRA_VALUE_AT_END", key))
			break
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return fields
}
