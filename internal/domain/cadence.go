package domain

import "time"

// Cadence identifies one of the two ingestion schedules.
type Cadence string

const (
	CadenceQuotes Cadence = "quotes"
	CadenceRates  Cadence = "rates"
)

var Cadences = []Cadence{CadenceQuotes, CadenceRates}

func (c Cadence) Valid() bool {
	return c == CadenceQuotes || c == CadenceRates
}

// Period is the nominal interval between two fires of the cadence.
func (c Cadence) Period() time.Duration {
	switch c {
	case CadenceQuotes:
		return time.Hour
	case CadenceRates:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Watermark is the start time of the last cycle that completed as done or partial.
type Watermark struct {
	Cadence       Cadence
	LastSuccessAt time.Time
}

// Stale reports whether a catch-up cycle is due: no successful cycle yet,
// or the last one is older than a full period.
func (w Watermark) Stale(now time.Time) bool {
	if w.LastSuccessAt.IsZero() {
		return true
	}
	return now.Sub(w.LastSuccessAt) > w.Cadence.Period()
}
