// Package normalize turns raw provider payloads into canonical records.
// It performs no I/O. Individual malformed entries are dropped and counted,
// a payload that cannot be read at all is an error.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketdata-etl/internal/domain"

	"github.com/shopspring/decimal"
)

type Domain string

const (
	DomainQuote Domain = "quote"
	DomainRate  Domain = "rate"
)

// maxReasons bounds the reasons kept on a warning.
const maxReasons = 10

type Options struct {
	// FetchedAt stands in for entries that carry no timestamp of their own.
	FetchedAt time.Time
	// Location interprets provider timestamps without a zone. Nil means UTC.
	Location *time.Location
	// Currencies keeps only these quote currencies. Empty keeps all.
	// A requested currency absent from the payload counts as skipped.
	Currencies []string
	// Symbols are the requested tickers. Each one absent from the
	// payload counts as skipped.
	Symbols []string
}

// Batch holds the records of one domain; the other slice stays nil.
type Batch struct {
	Quotes  []domain.QuoteRecord
	Rates   []domain.RateRecord
	Warning *domain.NormalizationWarning
}

func (b Batch) Len() int { return len(b.Quotes) + len(b.Rates) }

// Skipped is the number of entries dropped as malformed.
func (b Batch) Skipped() int {
	if b.Warning == nil {
		return 0
	}
	return b.Warning.Skipped
}

// Normalize dispatches raw to the parser of d.
func Normalize(raw []byte, d Domain, opts Options) (Batch, error) {
	switch d {
	case DomainQuote:
		qs, warn, err := Quotes(raw, opts)
		return Batch{Quotes: qs, Warning: warn}, err
	case DomainRate:
		rs, warn, err := Rates(raw, opts)
		return Batch{Rates: rs, Warning: warn}, err
	default:
		return Batch{}, fmt.Errorf("%w: unknown domain %q", domain.ErrInvalidConfig, d)
	}
}

type skipLog struct {
	domain  Domain
	skipped int
	reasons []string
}

func (s *skipLog) add(format string, args ...any) {
	s.skipped++
	if len(s.reasons) < maxReasons {
		s.reasons = append(s.reasons, fmt.Sprintf(format, args...))
	}
}

func (s *skipLog) warning() *domain.NormalizationWarning {
	if s.skipped == 0 {
		return nil
	}
	return &domain.NormalizationWarning{Domain: string(s.domain), Skipped: s.skipped, Reasons: s.reasons}
}

var errMissing = errors.New("missing")

func rawString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", errMissing
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("not a string")
	}
	return s, nil
}

// parseDecimal accepts a JSON number or a numeric string.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) {
		return decimal.Decimal{}, errMissing
	}
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Decimal{}, err
		}
		s = strings.TrimSpace(str)
	}
	if s == "" {
		return decimal.Decimal{}, errMissing
	}
	return decimal.NewFromString(s)
}

func decimalField(fields map[string]json.RawMessage, key string) (decimal.Decimal, error) {
	raw, ok := fields[key]
	if !ok {
		return decimal.Decimal{}, errMissing
	}
	return parseDecimal(raw)
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp reads RFC 3339 directly and zone-less layouts in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
