package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/httpx"
)

const (
	StockdataDefaultURL = "https://api.stockdata.org"
	stockdataQuotePath  = "/v1/data/quote"
)

// Stockdata pulls intraday quotes for a fixed symbol list from stockdata.org.
type Stockdata struct {
	BaseURL string
	Symbols []string
	Fetcher Fetcher
}

var _ application.Source = (*Stockdata)(nil)

func (s *Stockdata) Name() string       { return StockdataName }
func (s *Stockdata) SecretName() string { return StockdataSecret }

func (s *Stockdata) Fetch(ctx context.Context, token string) ([]byte, error) {
	if len(s.Symbols) == 0 {
		return nil, fmt.Errorf("%w: stockdata: no symbols", domain.ErrInvalidConfig)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: stockdata: empty api token", domain.ErrSecretNotFound)
	}
	u, err := buildURL(s.BaseURL, StockdataDefaultURL, stockdataQuotePath, url.Values{
		"symbols":   {strings.Join(s.Symbols, ",")},
		"api_token": {token},
	})
	if err != nil {
		return nil, fmt.Errorf("stockdata: %w", err)
	}
	return s.Fetcher.Fetch(ctx, httpx.Request{Provider: StockdataName, URL: u})
}

func buildURL(base, fallback, path string, q url.Values) (string, error) {
	if base == "" {
		base = fallback
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base url: %v", domain.ErrInvalidConfig, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: base url %q needs scheme and host", domain.ErrInvalidConfig, base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()
	return u.String(), nil
}
