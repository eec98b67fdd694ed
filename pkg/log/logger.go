// Package log provides the logger interface injected into dynaquery components
package log

import "go.uber.org/zap"

// Logger is a structured, leveled logger taking alternating key/value pairs
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ZapLogger adapts a zap logger to Logger
type ZapLogger struct {
	inner *zap.SugaredLogger
}

// NewZapLogger wraps log; the adapter logs through its sugared form
func NewZapLogger(log *zap.Logger) ZapLogger {
	return ZapLogger{inner: log.Sugar()}
}

// New builds a production zap logger, or a development one when verbose is set
func New(verbose bool) (ZapLogger, error) {
	var (
		zl  *zap.Logger
		err error
	)
	if verbose {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return ZapLogger{}, err
	}
	return NewZapLogger(zl), nil
}

// NewNop returns a logger that discards everything
func NewNop() ZapLogger {
	return NewZapLogger(zap.NewNop())
}

// Debug logs msg at debug level with the given key/value pairs
func (l ZapLogger) Debug(msg string, keysAndValues ...any) {
	l.inner.Debugw(msg, keysAndValues...)
}

// Info logs msg at info level with the given key/value pairs
func (l ZapLogger) Info(msg string, keysAndValues ...any) {
	l.inner.Infow(msg, keysAndValues...)
}

// Warn logs msg at warn level with the given key/value pairs
func (l ZapLogger) Warn(msg string, keysAndValues ...any) {
	l.inner.Warnw(msg, keysAndValues...)
}

// Error logs msg at error level with the given key/value pairs
func (l ZapLogger) Error(msg string, keysAndValues ...any) {
	l.inner.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered entries
func (l ZapLogger) Sync() error {
	return l.inner.Sync()
}
