package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/quartz"

	"examshield/internal/config"
	"examshield/internal/license"
)

// Open builds the backend selected by cfg.Driver
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger, clock quartz.Clock) (license.Backend, error) {
	var (
		backend license.Backend
		err     error
	)
	switch cfg.Driver {
	case config.DriverFile, "":
		backend, err = NewFileBackend(cfg.FilePath(),
			WithFileLogger(logger),
			WithFileClock(clock),
			WithBackupRetention(cfg.BackupRetention),
			WithLockTimeout(cfg.LockTimeout),
		)
	case config.DriverPostgres:
		backend, err = OpenPostgres(ctx, cfg.Postgres.DSN,
			WithTableName(cfg.Postgres.Table),
			WithPostgresRetention(cfg.BackupRetention),
		)
	case config.DriverMongo:
		backend, err = OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database,
			WithCollectionName(cfg.Mongo.Collection),
			WithMongoRetention(cfg.BackupRetention),
		)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return backend, nil
}
