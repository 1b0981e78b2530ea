//go:build cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// initDB opens the database with mattn/go-sqlite3. WAL mode and a busy
// timeout are added unless the path already carries parameters.
func initDB(dataSource string) (*sql.DB, error) {
	if !strings.Contains(dataSource, "?") {
		dataSource += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return sql.Open("sqlite3", dataSource)
}
