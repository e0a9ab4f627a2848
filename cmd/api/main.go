package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"marketdata-etl/internal/bootstrap"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	env := flag.String("env", "", "load .env.<name> before .env")
	flag.Parse()
	if *env != "" {
		_ = godotenv.Load(".env." + *env)
	}
	_ = godotenv.Load()

	logger := logx.L()
	defer logx.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// API process only reads; run cmd/etl for ingestion
	run, cleanup, err := bootstrap.InitAPIApp(ctx)
	if err != nil {
		logger.Error("bootstrap api", zap.Error(err))
		logx.Sync()
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx); err != nil {
		logger.Error("listen", zap.Error(err))
		cleanup()
		logx.Sync()
		os.Exit(1)
	}
}
