//go:build wireinject

package bootstrap

import (
	"context"

	"github.com/google/wire"
)

var storageSet = wire.NewSet(
	ProvideLogger,
	ProvideConfig,
	ProvideStorage,
	ProvideQueryService,
	ProvideAPIServer,
)

var pipelineSet = wire.NewSet(
	ProvideRedisClient,
	ProvideLimiter,
	ProvideFetcher,
	ProvidePipelines,
	ProvideSecrets,
	ProvideLoader,
	ProvideIngestionService,
	ProvideScheduler,
)

// ETL injector: scheduler, pipelines and the ops API over one storage
func InitETL(ctx context.Context) (*ETL, func(), error) {
	wire.Build(
		storageSet,
		pipelineSet,
		ProvideSchedulerStatus,
		NewETL,
	)
	return nil, nil, nil
}

// API injector: read-only server without a scheduler
func InitAPI(ctx context.Context) (*API, func(), error) {
	wire.Build(
		storageSet,
		ProvideNoStatus,
		NewAPI,
	)
	return nil, nil, nil
}
