// Package db opens the MySQL-protocol connection used to read table
// statistics from a live TiDB cluster.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// DB wraps a connection pool.
type DB struct {
	*sql.DB
	database string
}

// Open parses dsn, opens a pool and pings the server.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse dsn")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "mysql connector")
	}
	pool := sql.OpenDB(connector)
	pool.SetMaxOpenConns(4)
	pool.SetConnMaxLifetime(5 * time.Minute)
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, errors.Wrapf(err, "ping %s", cfg.Addr)
	}
	return &DB{DB: pool, database: cfg.DBName}, nil
}

// Database returns the schema named in the DSN, if any.
func (d *DB) Database() string {
	return d.database
}

// QueryStrings runs query and returns every row as strings keyed by column
// name. NULL cells are empty and absent from the valid map.
func (d *DB) QueryStrings(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]sql.RawBytes, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if values[i] == nil {
				continue
			}
			row[col] = string(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Row is one result row keyed by column name.
type Row map[string]string

// Get returns a cell; ok is false for NULL or a missing column.
func (r Row) Get(col string) (string, bool) {
	v, ok := r[col]
	return v, ok
}
