package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/husio/sqlsafe/pkg/surf/sqldb"
)

// EnsureSchema creates all tables used by the Store, unless they already
// exist.
func EnsureSchema(ctx context.Context, conn *sqldb.Conn) error {
	schema, ok := schemas[conn.Dialect()]
	if !ok {
		return fmt.Errorf("no schema for %s", conn.Dialect().Name())
	}
	for i, query := range strings.Split(strings.TrimSpace(schema), ";\n\n") {
		query = strings.TrimSuffix(query, ";")
		st, err := sqldb.Bind(query)
		if err != nil {
			return fmt.Errorf("cannot bind %d query: %w", i, err)
		}
		if _, err := conn.Exec(ctx, st); err != nil {
			begin := query
			if len(begin) > 60 {
				begin = begin[:58] + ".."
			}
			return fmt.Errorf("cannot execute %d query (%q): %w", i, begin, err)
		}
	}
	return nil
}

var schemas = map[*sqldb.Dialect]string{
	sqldb.SQLite:   sqliteSchema,
	sqldb.Postgres: postgresSchema,
	sqldb.MySQL:    mysqlSchema,
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS
users (
	user_id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS
counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL CHECK (value >= 0)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS
users (
	user_id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	created TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS
counters (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL CHECK (value >= 0)
);
`

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS
users (
	user_id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	email VARCHAR(191) NOT NULL UNIQUE,
	password VARCHAR(255) NOT NULL,
	created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) DEFAULT CHARSET = utf8mb4;

CREATE TABLE IF NOT EXISTS
counters (
	name VARCHAR(191) PRIMARY KEY,
	value BIGINT NOT NULL CHECK (value >= 0)
) DEFAULT CHARSET = utf8mb4;
`
