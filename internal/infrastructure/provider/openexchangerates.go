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
	OERDefaultURL = "https://openexchangerates.org"
	oerLatestPath = "/api/latest.json"
)

// OpenExchangeRates pulls the latest daily rates from openexchangerates.org.
type OpenExchangeRates struct {
	BaseURL    string
	Base       string
	Currencies []string
	Fetcher    Fetcher
}

var _ application.Source = (*OpenExchangeRates)(nil)

func (o *OpenExchangeRates) Name() string       { return OERName }
func (o *OpenExchangeRates) SecretName() string { return OERSecret }

func (o *OpenExchangeRates) Fetch(ctx context.Context, appID string) ([]byte, error) {
	if appID == "" {
		return nil, fmt.Errorf("%w: oer: empty app id", domain.ErrSecretNotFound)
	}
	q := url.Values{"app_id": {appID}}
	// USD is the only base on the free plan and the API default
	if o.Base != "" && o.Base != "USD" {
		q.Set("base", o.Base)
	}
	if len(o.Currencies) > 0 {
		q.Set("symbols", strings.Join(o.Currencies, ","))
	}
	u, err := buildURL(o.BaseURL, OERDefaultURL, oerLatestPath, q)
	if err != nil {
		return nil, fmt.Errorf("oer: %w", err)
	}
	return o.Fetcher.Fetch(ctx, httpx.Request{Provider: OERName, URL: u})
}
