//go:build cgo_sqlite

package main

import (
	_ "github.com/mattn/go-sqlite3"
)

// sqlDriver is the cgo SQLite driver, selected with the cgo_sqlite build tag.
const sqlDriver = "sqlite3"

// dsnOptions enables WAL and makes concurrent writers wait instead of failing.
const dsnOptions = "_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
