// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with pingkit's
// standard pragmas.
//
// It wraps zombiezen.com/go/sqlite. A database may be open in more than
// one process at a time (a host recording counters while `pingkit
// counters` reads them), so every connection runs in WAL mode with a
// busy timeout and writers wait for the lock instead of failing with
// SQLITE_BUSY.
//
// Callers either [Pool.Take] a connection and [Pool.Put] it back, or
// use [Pool.Update] to run a function inside an immediate transaction.
// Connections are not safe for concurrent use.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(dataDir, "counters.db"),
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
package sqlitepool
