package config

import "time"

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultPGMaxConns      = 5
	DefaultPGMinConns      = 1
	DefaultPGIdleTime      = 2 * time.Minute
	DefaultSQLiteBusy      = 5 * time.Second

	DefaultCycleTimeout    = 2 * time.Minute
	DefaultFetchTimeout    = 10 * time.Second
	DefaultRetryAttempts   = 3
	DefaultRetryBaseDelay  = time.Second
	DefaultRetryMultiplier = 2.0
	DefaultRetryMaxDelay   = 30 * time.Second

	DefaultMigratePings     = 30
	DefaultMigratePingDelay = 500 * time.Millisecond
)

const DefaultReadHeaderTimeout = 5 * time.Second
