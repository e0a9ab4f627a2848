package logx

import (
	"context"
	"os"
	"strings"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevel()
)

func init() {
	_ = SetLevel(os.Getenv("LOG_LEVEL"))

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = level
	zapCfg.Sampling = nil
	zapCfg.DisableStacktrace = true
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	logger.Store(l)
}

// L returns the package-level logger instance.
func L() *zap.Logger {
	return logger.Load()
}

// Replace swaps the package-level logger, typically for zap/zaptest loggers in tests.
func Replace(l *zap.Logger) {
	logger.Store(l)
}

// SetLevel changes the level of the package-level logger. An empty level is a no-op.
func SetLevel(lvl string) error {
	if lvl == "" {
		return nil
	}
	return level.UnmarshalText([]byte(strings.ToLower(lvl)))
}

func Sync() { _ = L().Sync() }

type fieldsKey struct{}

// With returns a context whose WithFields logger carries fields.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	prev, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// WithFields returns the logger enriched with the fields stored on ctx
// (cycle id, cadence, request id).
func WithFields(ctx context.Context) *zap.Logger {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	if len(fields) == 0 {
		return L()
	}
	return L().With(fields...)
}

// Scope exposes With and WithFields to packages that take the context
// logger as a dependency instead of importing this package.
type Scope struct{}

func (Scope) With(ctx context.Context, fields ...zap.Field) context.Context {
	return With(ctx, fields...)
}

func (Scope) Logger(ctx context.Context) *zap.Logger { return WithFields(ctx) }

type cronLogger struct{ s *zap.SugaredLogger }

// CronLogger routes the cron engine's own logging to zap. Its routine
// messages are demoted to debug.
func CronLogger() cron.Logger {
	return cronLogger{s: L().Named("cron").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.s.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
