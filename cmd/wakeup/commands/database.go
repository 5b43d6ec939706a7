package commands

import (
	"github.com/jmoiron/sqlx"

	"github.com/teranos/wakeup/am"
	"github.com/teranos/wakeup/db"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
)

// defaultDBPath is used when neither the flag nor the config names a database
const defaultDBPath = "wakeup.db"

// openDatabase opens and migrates the database at dbPath, falling back to
// the configured path.
func openDatabase(dbPath string) (*sqlx.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	conn, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}
	return sqlx.NewDb(conn, "sqlite3"), nil
}
