package monitoring

import (
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

var (
	zapMu     sync.Mutex
	zapLogger *zap.Logger
)

// NewZap builds a zap logger with ISO-8601 timestamps. development selects
// the console encoder.
func NewZap(development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// UseZap routes Logf through l and installs it as the zap global. Passing
// nil installs a no-op logger.
func UseZap(l *zap.Logger) {
	zapMu.Lock()
	defer zapMu.Unlock()
	if zapLogger != nil {
		_ = zapLogger.Sync()
	}
	if l == nil {
		l = zap.NewNop()
	}
	zapLogger = l
	zap.ReplaceGlobals(l)
	sugar := l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	SetLogger(func(format string, v ...interface{}) {
		sugar.Infof(strings.TrimSuffix(format, "\n"), v...)
	})
}

// Sync flushes the installed zap logger, if any.
func Sync() {
	zapMu.Lock()
	defer zapMu.Unlock()
	if zapLogger != nil {
		_ = zapLogger.Sync()
	}
}

// ZapWriter adapts l to an io.Writer at the given level, for packages that
// take SetLogWriters streams. Each written line becomes one log entry.
func ZapWriter(l *zap.Logger, level zapcore.Level, component string) io.Writer {
	return &zapio.Writer{Log: l.Named(component), Level: level}
}
