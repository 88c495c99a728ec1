package persistence

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	migrationsTable = "public.schema_migrations"
	// migrationLockKey is the pg advisory lock held while migrating, so two
	// lendingd instances starting together apply each file once.
	migrationLockKey int64 = 0x6c656e64
)

// Migrator applies the SQL files in one directory in version order. Files
// are named {version}_{name}.up.sql and {version}_{name}.down.sql.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, log: log}
}

// MigrationStatus reports whether one up-migration has been applied.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
}

// Up applies every pending up-migration, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		statuses, err := m.status(ctx, conn)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			if s.Applied {
				continue
			}
			err := m.run(ctx, conn, s.Filename, `INSERT INTO `+migrationsTable+` (version, filename) VALUES ($1, $2)`,
				s.Version, s.Filename)
			if err != nil {
				return err
			}
			m.log.Info().Str("file", s.Filename).Msg("applied migration")
		}
		return nil
	})
}

// Down rolls back the most recently applied migration. It is a no-op when
// nothing is applied.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM `+migrationsTable+` ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read latest migration")
		}

		down := strings.Replace(filename, ".up.sql", ".down.sql", 1)
		if err := m.run(ctx, conn, down, `DELETE FROM `+migrationsTable+` WHERE version = $1`, version); err != nil {
			return err
		}
		m.log.Info().Str("file", down).Msg("rolled back migration")
		return nil
	})
}

// Status lists every up-migration on disk with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}
	defer conn.Close()
	return m.status(ctx, conn)
}

func (m *Migrator) status(ctx context.Context, conn *sql.Conn) ([]MigrationStatus, error) {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, errors.Wrap(err, "ensure migration table")
	}

	applied := make(map[string]bool)
	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+migrationsTable)
	if err != nil {
		return nil, errors.Wrap(err, "read applied versions")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan applied version")
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "read applied versions")
	}

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		v := extractVersion(f)
		out = append(out, MigrationStatus{Version: v, Filename: f, Applied: applied[v]})
	}
	return out, nil
}

// run executes one migration file and its bookkeeping statement atomically.
func (m *Migrator) run(ctx context.Context, conn *sql.Conn, file, record string, args ...any) error {
	body, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return errors.Wrapf(err, "read migration %s", file)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", file)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return errors.Wrapf(err, "exec migration %s", file)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return errors.Wrapf(err, "record migration %s", file)
	}
	return errors.Wrapf(tx.Commit(), "commit migration %s", file)
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return errors.Wrap(err, "take migration lock")
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			m.log.Warn().Err(err).Msg("release migration lock")
		}
	}()
	return fn(conn)
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration filename:
// "000001_event_log.up.sql" gives "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
