package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatermarkStale(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		wm   Watermark
		want bool
	}{
		{"never ran", Watermark{Cadence: CadenceQuotes}, true},
		{"within hour", Watermark{Cadence: CadenceQuotes, LastSuccessAt: now.Add(-59 * time.Minute)}, false},
		{"exactly one hour", Watermark{Cadence: CadenceQuotes, LastSuccessAt: now.Add(-time.Hour)}, false},
		{"three hour outage", Watermark{Cadence: CadenceQuotes, LastSuccessAt: now.Add(-3 * time.Hour)}, true},
		{"rates same day", Watermark{Cadence: CadenceRates, LastSuccessAt: now.Add(-7 * time.Hour)}, false},
		{"rates missed a day", Watermark{Cadence: CadenceRates, LastSuccessAt: now.Add(-25 * time.Hour)}, true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.wm.Stale(now), c.name)
	}
}

func TestHourAndDateTruncation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("ICT", 7*3600)
	ts := time.Date(2025, 3, 11, 2, 45, 13, 500, loc)

	require.Equal(t, time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC), HourOf(ts))
	require.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), DateOf(ts))
}

func TestValidCodes(t *testing.T) {
	t.Parallel()
	require.True(t, ValidCurrency("VND"))
	require.False(t, ValidCurrency("vnd"))
	require.False(t, ValidCurrency("USDT"))
	require.True(t, ValidSymbol("BRK.B"))
	require.False(t, ValidSymbol(""))
	require.Equal(t, "AAPL", NormalizeCode(" aapl "))
}
