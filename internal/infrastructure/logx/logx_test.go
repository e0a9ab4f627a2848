package logx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithFieldsCarriesContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })

	ctx := With(context.Background(), zap.String("cadence", "quotes"))
	ctx = With(ctx, zap.String("cycle_id", "c-1"))
	WithFields(ctx).Info("cycle.start")

	entries := logs.FilterMessage("cycle.start").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "quotes", fields["cadence"])
	require.Equal(t, "c-1", fields["cycle_id"])
}

func TestCronLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := L()
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(prev) })

	cl := CronLogger()
	cl.Info("wake", "now", "x")
	cl.Error(errors.New("boom"), "panic", "job", "quotes")

	require.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).Len())
	errs := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 1)
	require.Equal(t, "boom", errs[0].ContextMap()["error"])
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, SetLevel(""))
	require.NoError(t, SetLevel("WARN"))
	require.Equal(t, zapcore.WarnLevel, level.Level())
	require.Error(t, SetLevel("loud"))
	require.NoError(t, SetLevel("info"))
}
