// Copyright (c) 2025 ToeiRei
// Netdeploy - transactional network configuration deployment
// This source code is licensed under the MIT license found in the LICENSE file.

// package audit persists a history of deployment runs. Every run is
// recorded with its outcome so operators can answer "what was pushed to
// that device, when, and did it stick" without trawling device commit
// logs. The store is backed by Bun and supports SQLite, PostgreSQL and
// MySQL, selected by type and DSN.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	// SQL drivers for the supported backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Run is one recorded deployment run.
type Run struct {
	bun.BaseModel `bun:"table:deploy_runs"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Timestamp time.Time `bun:"timestamp,notnull" json:"timestamp"`
	Host      string    `bun:"host,notnull" json:"host"`
	User      string    `bun:"username,notnull" json:"user"`
	Mode      string    `bun:"mode" json:"mode"`
	Transport string    `bun:"transport" json:"transport"`
	CheckMode bool      `bun:"check_mode" json:"check_mode"`
	Changed   bool      `bun:"changed" json:"changed"`
	Outcome   string    `bun:"outcome,notnull" json:"outcome"`
	Message   string    `bun:"message" json:"message"`
}

// Store is the run-history data access layer.
type Store struct {
	db *bun.DB
}

// New opens the audit store for the given database type and DSN and
// creates the runs table when it does not exist yet.
func New(dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that.
	if dbType == "postgres" {
		driverName = "pgx"
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	var bdb *bun.DB
	switch dbType {
	case "sqlite":
		// In-memory SQLite databases are per connection; a second
		// connection would see an empty schema.
		if dsn == ":memory:" {
			sqlDB.SetMaxOpenConns(1)
		}
		bdb = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		bdb = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		bdb = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		sqlDB.Close()
		return nil, fmt.Errorf("unsupported audit database type: %s", dbType)
	}

	if _, err := bdb.NewCreateTable().Model((*Run)(nil)).IfNotExists().Exec(context.Background()); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &Store{db: bdb}, nil
}

// Record inserts one run into the history.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(run).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	err := s.db.NewSelect().Model(&runs).Order("timestamp DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// All returns the complete history, oldest first. Used by the exporter.
func (s *Store) All(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.NewSelect().Model(&runs).Order("timestamp ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return runs, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
