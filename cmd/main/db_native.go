//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

// initDB opens the database with the pure Go driver. WAL mode and a busy
// timeout are added unless the path already carries parameters.
func initDB(dataSource string) (*sql.DB, error) {
	if !strings.Contains(dataSource, "?") {
		dataSource += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return sql.Open("sqlite", dataSource)
}
