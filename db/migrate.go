package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
)

const migrationDir = "sqlite/migrations"

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// migration is one embedded schema step, ordered by its numeric prefix
type migration struct {
	version string
	file    string
}

func pendingOrder() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, _, _ := strings.Cut(e.Name(), "_")
		out = append(out, migration{version: version, file: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].file < out[j].file })
	return out, nil
}

// Migrate brings the schema up to the newest embedded migration. Each step
// runs in its own transaction together with its schema_migrations row.
// A nil logger runs silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	steps, err := pendingOrder()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range steps {
		done, err := isApplied(db, m)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if logger != nil {
			logger.Infow("Applying migration", "migration", m.file, "version", m.version)
		}
		if err := apply(db, m); err != nil {
			return errors.WithDetail(err, "Migration: "+m.file)
		}
		applied++
	}

	if logger != nil {
		version, err := SchemaVersion(db)
		if err != nil {
			return err
		}
		logger.Infow("Schema up to date",
			"schema_version", version,
			"applied", applied,
			"known", len(steps),
		)
	}
	return nil
}

// SchemaVersion is the highest recorded migration version, empty on a fresh
// database
func SchemaVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", nil
		}
		return "", errors.Wrap(err, "read schema version")
	}
	return version.String, nil
}

// isApplied checks schema_migrations, which only 000 may run without
func isApplied(db *sql.DB, m migration) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.version).Scan(&exists)
	if err == nil {
		return exists, nil
	}
	if m.version == "000" {
		return false, nil
	}
	return false, errors.Newf("schema_migrations table missing before %s", m.file)
}

func apply(db *sql.DB, m migration) error {
	body, err := migrations.ReadFile(path.Join(migrationDir, m.file))
	if err != nil {
		return errors.Wrap(err, "read migration")
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return errors.Wrap(err, "execute migration")
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
		return errors.Wrap(err, "record migration")
	}
	return errors.Wrap(tx.Commit(), "commit migration")
}
