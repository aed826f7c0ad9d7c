package loggingutils

import (
	"fmt"
	"sync/atomic"

	dglogger "github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
)

// PrintfLogger adapts zap to the printf style loggers dragonboat and pebble
// expect. It satisfies both dglogger.ILogger and pebble.Logger.
type PrintfLogger struct {
	zap   *zap.Logger
	level int32
}

var _ dglogger.ILogger = (*PrintfLogger)(nil)

func NewPrintfLogger(z *zap.Logger) *PrintfLogger {
	return &PrintfLogger{zap: z, level: int32(dglogger.DEBUG)}
}

// SetLevel drops messages less severe than level. The zap core still applies
// its own level on top.
func (l *PrintfLogger) SetLevel(level dglogger.LogLevel) {
	atomic.StoreInt32(&l.level, int32(level))
}

func (l *PrintfLogger) enabled(level dglogger.LogLevel) bool {
	return int32(level) <= atomic.LoadInt32(&l.level)
}

func (l *PrintfLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(dglogger.DEBUG) {
		l.zap.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *PrintfLogger) Infof(format string, args ...interface{}) {
	if l.enabled(dglogger.INFO) {
		l.zap.Info(fmt.Sprintf(format, args...))
	}
}

func (l *PrintfLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(dglogger.WARNING) {
		l.zap.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *PrintfLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(dglogger.ERROR) {
		l.zap.Error(fmt.Sprintf(format, args...))
	}
}

// Panicf always logs and panics, whatever the level.
func (l *PrintfLogger) Panicf(format string, args ...interface{}) {
	l.zap.Panic(fmt.Sprintf(format, args...))
}

// Fatalf is pebble's unrecoverable error hook.
func (l *PrintfLogger) Fatalf(format string, args ...interface{}) {
	l.zap.Fatal(fmt.Sprintf(format, args...))
}
