package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/config"
	"marketdata-etl/internal/domain"
	infraconfig "marketdata-etl/internal/infrastructure/config"
	httpserver "marketdata-etl/internal/infrastructure/http"
	"marketdata-etl/internal/infrastructure/httpx"
	"marketdata-etl/internal/infrastructure/logx"
	"marketdata-etl/internal/infrastructure/provider"
	"marketdata-etl/internal/infrastructure/ratelimit"
	redisstore "marketdata-etl/internal/infrastructure/redis"
	"marketdata-etl/internal/infrastructure/secrets"
	"marketdata-etl/internal/infrastructure/worker"
	"marketdata-etl/internal/normalize"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const budgetKeyPrefix = "etl:budget"

func ProvideLogger() *zap.Logger { return logx.L() }

func ProvideConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := logx.SetLevel(cfg.LogLevel); err != nil {
		return config.Config{}, fmt.Errorf("%w: LOG_LEVEL: %v", domain.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func ProvideStorage(ctx context.Context, log *zap.Logger, cfg config.Config) (Storage, func(), error) {
	return BuildStorage(ctx, log, cfg)
}

// ProvideRedisClient returns nil unless budgets are kept in Redis.
func ProvideRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, func(), error) {
	if cfg.BudgetBackend != "redis" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, func() {}, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvideLimiter(cfg config.Config, client *redis.Client) (*ratelimit.Limiter, error) {
	l := ratelimit.NewLimiter()
	for _, p := range []struct {
		name   string
		budget config.Budget
	}{
		{provider.StockdataName, cfg.StockdataBudget},
		{provider.OERName, cfg.OERBudget},
	} {
		b := ratelimit.Budget{
			Limit:  p.budget.Limit,
			Window: p.budget.Window,
			Kind:   ratelimit.Kind(p.budget.Kind),
			Policy: ratelimit.Policy(p.budget.Policy),
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("%s budget: %w", p.name, err)
		}
		var w ratelimit.Window
		if client != nil {
			w = redisstore.NewWindow(client, budgetKeyPrefix, p.name, b)
		} else {
			w = ratelimit.NewWindow(b)
		}
		l.Register(p.name, w, b.Policy)
	}
	return l, nil
}

func ProvideFetcher(cfg config.Config, l *ratelimit.Limiter) *httpx.Fetcher {
	return &httpx.Fetcher{
		HTTP:   &http.Client{},
		Budget: l,
		Retry: httpx.RetryPolicy{
			Attempts:   cfg.RetryAttempts,
			BaseDelay:  cfg.RetryBaseDelay,
			Multiplier: cfg.RetryMultiplier,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		Timeout: cfg.FetchTimeout,
	}
}

// ProvidePipelines binds each cadence to its source: the real APIs for
// PROVIDER=http, deterministic local payloads for PROVIDER=fake.
func ProvidePipelines(cfg config.Config, f *httpx.Fetcher) []application.Pipeline {
	symbols, base, currencies := codes(cfg.Symbols), domain.NormalizeCode(cfg.BaseCurrency), codes(cfg.Currencies)

	var quotes, rates application.Source
	switch cfg.Provider {
	case "http":
		quotes = &provider.Stockdata{BaseURL: cfg.StockdataBaseURL, Symbols: symbols, Fetcher: f}
		rates = &provider.OpenExchangeRates{BaseURL: cfg.OERBaseURL, Base: base, Currencies: currencies, Fetcher: f}
	default:
		quotes = &provider.FakeQuotes{Symbols: symbols, Location: cfg.Location()}
		rates = &provider.FakeRates{Base: base, Currencies: currencies}
	}
	return []application.Pipeline{
		{
			Cadence: domain.CadenceQuotes,
			Source:  quotes,
			Domain:  normalize.DomainQuote,
			Options: normalize.Options{Location: cfg.Location(), Symbols: symbols},
		},
		{
			Cadence: domain.CadenceRates,
			Source:  rates,
			Domain:  normalize.DomainRate,
			Options: normalize.Options{Currencies: currencies},
		},
	}
}

func ProvideSecrets(cfg config.Config) application.SecretProvider {
	var backend application.SecretProvider = secrets.Env{}
	if cfg.SecretsBackend == "file" {
		backend = secrets.File{Path: cfg.SecretsFile}
	}
	return secrets.NewCached(backend)
}

func ProvideLoader(s Storage) *application.Loader {
	l := application.NewLoader(s.UoW, s.QuoteStore, s.RateStore)
	l.Log = logx.Scope{}
	return l
}

func ProvideIngestionService(
	cfg config.Config,
	sp application.SecretProvider,
	loader *application.Loader,
	s Storage,
	pipelines []application.Pipeline,
) *application.IngestionService {
	return application.NewIngestionService(sp, loader, s.Journal, s.Watermarks, pipelines,
		application.WithCycleTimeout(cfg.CycleTimeout),
		application.WithLogScope(logx.Scope{}))
}

func ProvideScheduler(cfg config.Config, svc *application.IngestionService) (*worker.Scheduler, error) {
	return worker.NewScheduler(svc, []worker.Schedule{
		{Cadence: domain.CadenceQuotes, Spec: cfg.QuoteCron},
		{Cadence: domain.CadenceRates, Spec: cfg.RateCron},
	}, worker.WithShutdownGrace(cfg.ShutdownGrace))
}

func ProvideQueryService(s Storage) *application.QueryService {
	return application.NewQueryService(s.QuoteReader, s.RateReader, s.Journal, s.Watermarks)
}

func ProvideSchedulerStatus(s *worker.Scheduler) httpserver.StatusSource { return s }

// ProvideNoStatus is used by the standalone API, which has no scheduler.
func ProvideNoStatus() httpserver.StatusSource { return nil }

func ProvideAPIServer(q *application.QueryService, st httpserver.StatusSource, s Storage) *httpserver.Server {
	srv := httpserver.NewServer(q, st)
	srv.SetReadyCheck(s.Ping)
	return srv
}

// ETL is the long-running pipeline process.
type ETL struct {
	Config    config.Config
	Scheduler *worker.Scheduler
	API       *httpserver.Server
	Secrets   application.SecretProvider
	Pipelines []application.Pipeline
}

func NewETL(cfg config.Config, sched *worker.Scheduler, api *httpserver.Server, sp application.SecretProvider, p []application.Pipeline) *ETL {
	return &ETL{Config: cfg, Scheduler: sched, API: api, Secrets: sp, Pipelines: p}
}

// API is the standalone read-only server process.
type API struct {
	Config config.Config
	Server *httpserver.Server
}

func NewAPI(cfg config.Config, srv *httpserver.Server) *API {
	return &API{Config: cfg, Server: srv}
}

func newHTTPServer(addr string, srv *httpserver.Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           httpserver.NewRouter(srv),
		ReadHeaderTimeout: infraconfig.DefaultReadHeaderTimeout,
	}
}
