// Команда expiry-sweep выполняет один проход по просроченным неоплаченным
// заказам. Предназначена для cron: код выхода 1, если хотя бы один заказ не
// удалось перевести в expired.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/app"
	"github.com/vladislavdragonenkov/babyfood/internal/service/expiry"
)

const sweepTimeout = 5 * time.Minute

type sweepFunc func(ctx context.Context, cfg app.Config) (expiry.Result, error)

// run возвращает код выхода процесса.
func run(ctx context.Context, cfg app.Config, sweep sweepFunc) int {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	result, err := sweep(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("expiry sweep setup failed")
		return 1
	}

	entry := log.WithFields(log.Fields{
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	})
	if result.Errors > 0 {
		entry.Error("expiry sweep finished with errors")
		return 1
	}
	entry.Info("expiry sweep finished")
	return 0
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	cfg, warnings := app.ConfigFromEnv(os.LookupEnv)
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, app.RunSweep)
	stop()
	os.Exit(code)
}
