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
	loadEnvFiles(*env)

	log := logx.L()
	defer logx.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, cleanup, err := bootstrap.InitWorkerApp(ctx)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		logx.Sync()
		os.Exit(1)
	}
	defer cleanup()

	if err := run(ctx); err != nil {
		log.Error("etl exited", zap.Error(err))
		cleanup()
		logx.Sync()
		os.Exit(1)
	}
	log.Info("etl stopped")
}

// loadEnvFiles never overrides variables already set in the environment.
func loadEnvFiles(env string) {
	if env != "" {
		_ = godotenv.Load(".env." + env)
	}
	_ = godotenv.Load()
}
