package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir = "sql/migrations"
	// ключ advisory lock общий для всех процессов, которые гоняют миграции
	migrationLockKey = int64(20261014)
)

const ensureMigrationTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`

// ErrMigrationDrift возвращается, когда применённая миграция отличается от
// встроенного файла с той же версией.
var ErrMigrationDrift = errors.New("applied migration differs from embedded file")

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (m migration) label() string {
	return fmt.Sprintf("%03d_%s", m.Version, m.Name)
}

// migrationSet упорядочен по возрастанию версии.
type migrationSet []migration

func (set migrationSet) find(version int64) (migration, bool) {
	i := sort.Search(len(set), func(i int) bool { return set[i].Version >= version })
	if i < len(set) && set[i].Version == version {
		return set[i], true
	}
	return migration{}, false
}

// pending возвращает версии, которых нет среди применённых.
func (set migrationSet) pending(applied map[int64]string) []int64 {
	versions := make([]int64, 0)
	for _, m := range set {
		if _, ok := applied[m.Version]; !ok {
			versions = append(versions, m.Version)
		}
	}
	return versions
}

// drifted возвращает применённые версии с другим checksum. Пустой checksum
// означает запись из схемы без этой колонки и не проверяется.
func (set migrationSet) drifted(applied map[int64]string) []int64 {
	versions := make([]int64, 0)
	for _, m := range set {
		sum, ok := applied[m.Version]
		if ok && sum != "" && sum != m.Checksum {
			versions = append(versions, m.Version)
		}
	}
	return versions
}

// MigrateUp применяет up-миграции. steps=0 применяет все ожидающие.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций, steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationState описывает состояние схемы для `migrate status` и readiness.
type MigrationState struct {
	// Version — старшая применённая версия, 0 для пустой базы.
	Version int64
	Applied int
	// Pending — версии из встроенных файлов, которые ещё не применены.
	Pending []int64
	// Drifted — применённые версии, чей SQL поменялся после применения.
	Drifted []int64
}

// MigrationStatus читает schema_migrations и сравнивает её со встроенными файлами.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, fmt.Errorf("postgres store is not initialized")
	}

	set, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, ensureMigrationTable); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedMigrations(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{
		Applied: len(applied),
		Pending: set.pending(applied),
		Drifted: set.drifted(applied),
	}
	for version := range applied {
		state.Version = max(state.Version, version)
	}
	return state, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// appliedMigrations возвращает version -> checksum.
func appliedMigrations(ctx context.Context, q queryer) (map[int64]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]string)
	for rows.Next() {
		var (
			version int64
			sum     string
		)
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	set, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	return withMigrationLock(ctx, conn, func() error {
		if _, err := conn.ExecContext(ctx, ensureMigrationTable); err != nil {
			return fmt.Errorf("ensure migration table: %w", err)
		}
		applied, err := appliedMigrations(ctx, conn)
		if err != nil {
			return err
		}

		plan, err := planMigrations(set, applied, direction, steps)
		if err != nil {
			return err
		}
		for _, m := range plan {
			if err := runMigration(ctx, conn, m, direction); err != nil {
				return err
			}
		}
		return nil
	})
}

// planMigrations выбирает миграции для одного запуска в порядке применения.
func planMigrations(set migrationSet, applied map[int64]string, direction migrationDirection, steps int) ([]migration, error) {
	if drifted := set.drifted(applied); len(drifted) > 0 {
		return nil, fmt.Errorf("%w: versions %v", ErrMigrationDrift, drifted)
	}

	var plan []migration
	switch direction {
	case migrationUp:
		for _, version := range set.pending(applied) {
			m, _ := set.find(version)
			plan = append(plan, m)
		}
	case migrationDown:
		versions := make([]int64, 0, len(applied))
		for version := range applied {
			versions = append(versions, version)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		for _, version := range versions {
			m, ok := set.find(version)
			if !ok {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
			plan = append(plan, m)
		}
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func withMigrationLock(ctx context.Context, conn *sql.Conn, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()
	return fn()
}

// runMigration выполняет один шаг и его запись в schema_migrations в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, direction migrationDirection) error {
	body, record, args := m.Up, `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`, []any{m.Version, m.Name, m.Checksum}
	if direction == migrationDown {
		body, record, args = m.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m.label(), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s migration %s: %w", direction, m.label(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.label(), err)
	}

	log.WithFields(log.Fields{
		"component": "postgres-migrator",
		"direction": direction,
		"migration": m.label(),
	}).Info("migration applied")
	return nil
}

// parseMigrationFile разбирает имя вида 001_name.up.sql.
func parseMigrationFile(base string) (int64, string, migrationDirection, error) {
	parts := migrationFileRe.FindStringSubmatch(base)
	if parts == nil {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parse migration version from %s: %w", base, err)
	}
	return version, parts[2], migrationDirection(parts[3]), nil
}

func loadMigrationsFromFS(fsys fs.FS) (migrationSet, error) {
	files, err := fs.Glob(fsys, path.Join(migrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		version, name, direction, err := parseMigrationFile(base)
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		switch {
		case !ok:
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		case m.Name != name:
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.Up
		if direction == migrationDown {
			target = &m.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}

	set := make(migrationSet, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		sum := sha256.Sum256([]byte(m.Up))
		m.Checksum = hex.EncodeToString(sum[:])
		set = append(set, *m)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Version < set[j].Version })
	return set, nil
}
