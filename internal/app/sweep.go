package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
)

// RunSweep выполняет один проход по просроченным заказам и завершается.
// События expired попадают в outbox общего хранилища и публикуются воркером сервиса.
func RunSweep(ctx context.Context, cfg Config) (expiry.Result, error) {
	logger := log.WithField("component", "expiry-sweep")

	if cfg.StorageDriver == StorageDriverMemory || cfg.StorageDriver == "" {
		logger.Warn("in-memory storage is empty at startup, sweep will find nothing")
	}

	runtime, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return expiry.Result{}, err
	}
	defer func() {
		if err := runtime.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	deps := newDependencies(cfg, runtime, nil, logger)
	return deps.Sweeper.Sweep(ctx), nil
}
