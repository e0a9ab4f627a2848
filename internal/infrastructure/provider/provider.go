package provider

import (
	"context"

	"marketdata-etl/internal/infrastructure/httpx"
)

const (
	StockdataName = "stockdata"
	OERName       = "openexchangerates"

	StockdataSecret = "stockdata-api-token"
	OERSecret       = "oer-appid"
)

// Fetcher is the transport shared by the HTTP sources.
type Fetcher interface {
	Fetch(ctx context.Context, req httpx.Request) ([]byte, error)
}
