// migrate применяет и откатывает встроенные миграции PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "BF_POSTGRES_DSN"
)

type command struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

// migrator — часть *postgres.Store, нужная командам.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cmd, err := parseCommand(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmd.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cmd.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := execute(ctx, store, cmd, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseCommand(args []string, getenv func(string) string, output io.Writer) (command, error) {
	var cmd command

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cmd.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&cmd.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&cmd.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.DurationVar(&cmd.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	cmd.direction = strings.ToLower(strings.TrimSpace(cmd.direction))
	switch cmd.direction {
	case "up", "down", "status":
	default:
		return command{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", cmd.direction)
	}

	cmd.dsn = strings.TrimSpace(cmd.dsn)
	if cmd.dsn == "" {
		cmd.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if cmd.dsn == "" {
		return command{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	if cmd.timeout <= 0 {
		cmd.timeout = defaultTimeout
	}
	return cmd, nil
}

func execute(ctx context.Context, store migrator, cmd command, out io.Writer) error {
	prefix := "migration status"
	switch cmd.direction {
	case "up":
		if err := store.MigrateUp(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		prefix = "migrate up ok"
	case "down":
		if err := store.MigrateDown(ctx, cmd.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		prefix = "migrate down ok"
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintln(out, formatState(prefix, state))
	return err
}

func formatState(prefix string, state postgres.MigrationState) string {
	line := fmt.Sprintf("%s: version=%d applied=%d", prefix, state.Version, state.Applied)
	if len(state.Pending) > 0 {
		line += " pending=" + joinVersions(state.Pending)
	}
	if len(state.Drifted) > 0 {
		line += " drifted=" + joinVersions(state.Drifted)
	}
	return line
}

func joinVersions(versions []int64) string {
	parts := make([]string, 0, len(versions))
	for _, v := range versions {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	return strings.Join(parts, ",")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
