//go:build !cgo_sqlite

package main

import (
	_ "modernc.org/sqlite"
)

// sqlDriver is the pure Go SQLite driver used by default.
const sqlDriver = "sqlite"

// dsnOptions enables WAL and makes concurrent writers wait instead of failing.
const dsnOptions = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
