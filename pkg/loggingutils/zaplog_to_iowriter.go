package loggingutils

import (
	"bytes"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggerWriter turns each write into one zap entry, optionally picking the
// level from a "[WARN]" style prefix.
type loggerWriter struct {
	logger      *zap.Logger
	inferLevels bool
}

var levelPrefixes = []struct {
	prefix []byte
	level  zapcore.Level
}{
	{[]byte("[TRACE]"), zapcore.DebugLevel},
	{[]byte("[DEBUG]"), zapcore.DebugLevel},
	{[]byte("[INFO]"), zapcore.InfoLevel},
	{[]byte("[WARN]"), zapcore.WarnLevel},
	{[]byte("[ERR]"), zapcore.ErrorLevel},
	{[]byte("[ERROR]"), zapcore.ErrorLevel},
}

func (l *loggerWriter) Write(p []byte) (int, error) {
	n := len(p)
	p = bytes.TrimSpace(p)
	level := zapcore.InfoLevel
	if l.inferLevels {
		for _, lp := range levelPrefixes {
			if idx := bytes.Index(p, lp.prefix); idx >= 0 {
				level = lp.level
				p = bytes.TrimSpace(p[idx+len(lp.prefix):])
				break
			}
		}
	}
	if ce := l.logger.Check(level, string(p)); ce != nil {
		ce.Write()
	}
	return n, nil
}
