package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

type dialect struct {
	name        string
	idColumn    string
	tableExists string
	listTables  string
}

var (
	postgresDialect = dialect{
		name:        "postgres",
		idColumn:    "id SERIAL PRIMARY KEY",
		tableExists: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
		listTables:  `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name LIKE ?`,
	}
	sqliteDialect = dialect{
		name:        "sqlite3",
		idColumn:    "id INTEGER PRIMARY KEY AUTOINCREMENT",
		tableExists: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		listTables:  `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`,
	}
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres":
		return postgresDialect, nil
	case "sqlite3":
		return sqliteDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported driver %q", driver)
}

// isDuplicate reports whether err says the object being created already
// exists. Concurrent CREATE ... IF NOT EXISTS on Postgres can also surface
// as a unique violation on the catalog.
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P07", // duplicate_table
			"42710", // duplicate_object
			"23505": // unique_violation
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strings.Contains(liteErr.Error(), "already exists")
	}
	return false
}
