// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localcore

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/pingkit/lib/sqlitepool"
)

const countersSchema = `
	CREATE TABLE IF NOT EXISTS counters (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
`

func openCounters(path string, logger *slog.Logger) (*sqlitepool.Pool, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, countersSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("localcore: opening counters: %w", err)
	}
	return pool, nil
}

func addCounter(ctx context.Context, pool *sqlitepool.Pool, name string, delta int64) error {
	return pool.Update(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO counters (name, value) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`,
			&sqlitex.ExecOptions{Args: []any{name, delta}})
	})
}

func readCounters(ctx context.Context, pool *sqlitepool.Pool) (map[string]int64, error) {
	counters := make(map[string]int64)
	err := pool.View(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT name, value FROM counters", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counters[stmt.ColumnText(0)] = stmt.ColumnInt64(1)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("localcore: reading counters: %w", err)
	}
	return counters, nil
}
