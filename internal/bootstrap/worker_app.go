package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	infraconfig "marketdata-etl/internal/infrastructure/config"
	"marketdata-etl/internal/infrastructure/logx"
	"marketdata-etl/internal/infrastructure/secrets"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type WorkerApp func(ctx context.Context) error

// InitWorkerApp wires the ETL process and checks that every credential its
// sources need resolves. A missing secret fails here, before anything is
// scheduled.
func InitWorkerApp(ctx context.Context) (WorkerApp, func(), error) {
	etl, cleanup, err := InitETL(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init etl: %w", err)
	}
	log := logx.L()
	log.Info("etl.configured", describe(etl.Config)...)

	if err := secrets.Resolve(ctx, etl.Secrets, RequiredSecrets(etl.Pipelines)...); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("resolve secrets: %w", err)
	}

	run := func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			etl.Scheduler.Start(gctx)
			return nil
		})
		if addr := etl.Config.HTTPAddr; addr != "" {
			srv := newHTTPServer(addr, etl.API)
			g.Go(func() error { return serveHTTP(gctx, srv) })
		}
		return g.Wait()
	}
	return run, cleanup, nil
}

// InitAPIApp wires the standalone read-only API.
func InitAPIApp(ctx context.Context) (WorkerApp, func(), error) {
	api, cleanup, err := InitAPI(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("init api: %w", err)
	}
	addr := api.Config.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := newHTTPServer(addr, api.Server)
	return func(ctx context.Context) error { return serveHTTP(ctx, srv) }, cleanup, nil
}

// serveHTTP runs srv until ctx ends, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	log := logx.L()
	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), infraconfig.DefaultShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	log.Info("server stopped")
	return err
}
