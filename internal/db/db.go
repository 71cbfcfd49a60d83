package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	stdfs "io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "sarathi.db"

// Open opens (or creates) the SQLite document store and applies pending migrations.
// Migrations are versioned .sql files under internal/db/migrations:
//
//	0001_name.up.sql / 0001_name.down.sql
//
// A script starting with "-- NO_TX" runs outside a transaction.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	// journal_mode may not be supported in some contexts (e.g., in-memory). Ignore errors.
	_, _ = d.Exec(`PRAGMA journal_mode=WAL`)
	for _, pragma := range []string{`PRAGMA busy_timeout=5000`, `PRAGMA foreign_keys=ON`} {
		if _, err := d.Exec(pragma); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	if err := applyMigrations(d); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Ping checks the database with a short timeout; used by the readiness check.
func Ping(ctx context.Context, d *sql.DB) error {
	if d == nil {
		return errors.New("nil db")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.PingContext(ctx)
}

// AppliedVersions returns the applied migration versions in ascending order.
func AppliedVersions(d *sql.DB) ([]int, error) {
	applied, err := appliedVersions(d)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(applied))
	for v := range applied {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// RollbackLast rolls back the most recently applied migration, if its down script exists.
// It returns the rolled back version, or 0 when nothing was applied.
func RollbackLast(d *sql.DB) (int, error) {
	if d == nil {
		return 0, errors.New("nil db")
	}
	if err := ensureMigrationsTable(d); err != nil {
		return 0, err
	}
	var version int
	err := d.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	migs, err := loadMigrations()
	if err != nil {
		return 0, err
	}
	m, ok := migs[version]
	if !ok || m.downFile == "" {
		return 0, fmt.Errorf("no down migration found for version %d", version)
	}
	text, err := migrationsFS.ReadFile(m.downFile)
	if err != nil {
		return 0, err
	}
	if err := run(d, string(text), `DELETE FROM schema_migrations WHERE version = ?`, version); err != nil {
		return 0, fmt.Errorf("rollback %04d failed: %w", version, err)
	}
	return version, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version  int
	name     string
	upFile   string // path inside embedded FS
	downFile string // path inside embedded FS
}

var migFileRe = regexp.MustCompile(`^([0-9]{4})_(.+)\.(up|down)\.sql$`)

func loadMigrations() (map[int]migration, error) {
	entries := map[int]migration{}
	list, err := stdfs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return entries, nil
	}
	for _, de := range list {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		m := migFileRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		var ver int
		if _, err := fmt.Sscanf(m[1], "%04d", &ver); err != nil {
			continue
		}
		item := entries[ver]
		item.version = ver
		item.name = m[2]
		p := "migrations/" + name
		if m[3] == "up" {
			item.upFile = p
		} else {
			item.downFile = p
		}
		entries[ver] = item
	}
	return entries, nil
}

func ensureMigrationsTable(d *sql.DB) error {
	_, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
    )`)
	return err
}

func appliedVersions(d *sql.DB) (map[int]bool, error) {
	if err := ensureMigrationsTable(d); err != nil {
		return nil, err
	}
	rows, err := d.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	got := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		got[v] = true
	}
	return got, rows.Err()
}

func applyMigrations(d *sql.DB) error {
	migs, err := loadMigrations()
	if err != nil {
		return err
	}
	if len(migs) == 0 {
		return nil
	}
	applied, err := appliedVersions(d)
	if err != nil {
		return err
	}
	versions := make([]int, 0, len(migs))
	for v := range migs {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for _, v := range versions {
		if applied[v] {
			continue
		}
		m := migs[v]
		if strings.TrimSpace(m.upFile) == "" {
			return fmt.Errorf("missing up migration for version %04d", v)
		}
		text, err := migrationsFS.ReadFile(m.upFile)
		if err != nil {
			return err
		}
		if err := run(d, string(text), `INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("migration %04d failed: %w", v, err)
		}
	}
	return nil
}

// run executes a migration script and its bookkeeping statement, inside a
// transaction unless the script opts out with "-- NO_TX".
func run(d *sql.DB, script, bookkeeping string, version int) error {
	if strings.HasPrefix(strings.TrimSpace(script), "-- NO_TX") {
		if _, err := d.Exec(script); err != nil {
			return err
		}
		_, err := d.Exec(bookkeeping, version)
		return err
	}
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(bookkeeping, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
