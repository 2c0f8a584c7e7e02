// Package store wraps the MySQL client for the continuous writes workload.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/shayancanonical/mysql-test-app/internal/relation"
)

const (
	// TableName holds the continuously written values.
	TableName = "data"
	// RandomTableName holds the values written by the write-random-value action.
	RandomTableName = "random_data"

	dialTimeout = 5 * time.Second
	ioTimeout   = 10 * time.Second
)

// Store is a live connection to the database published over the relation.
type Store struct {
	db *sqlx.DB
}

// Open connects to the endpoint described by cfg and verifies the connection
// with a ping. There is no retry: a failed attempt is surfaced immediately and
// the caller decides whether to try again.
func Open(ctx context.Context, cfg relation.Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.DBName = cfg.Database
	mc.Timeout = dialTimeout
	mc.ReadTimeout = ioTimeout
	mc.WriteTimeout = ioTimeout

	db, err := sqlx.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database handle: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", mc.Addr, err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection. Safe to call multiple times.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// EnsureSchema creates the workload tables if they do not exist yet.
// Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"id BIGINT NOT NULL AUTO_INCREMENT, "+
			"number BIGINT NOT NULL, "+
			"PRIMARY KEY (id))", TableName),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
			"id SMALLINT NOT NULL AUTO_INCREMENT, "+
			"data VARCHAR(255), "+
			"PRIMARY KEY (id))", RandomTableName),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Insert writes one row with the given number.
func (s *Store) Insert(ctx context.Context, number int64) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (number) VALUES (?)", TableName), number)
	if err != nil {
		return fmt.Errorf("failed to insert %d: %w", number, err)
	}
	return nil
}

// MaxNumber returns the largest number written so far, or 0 for an empty table.
func (s *Store) MaxNumber(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.GetContext(ctx, &max, fmt.Sprintf("SELECT MAX(number) FROM %s", TableName))
	if err != nil {
		return 0, fmt.Errorf("failed to query max written value: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// CountRows returns the number of rows in the continuous writes table.
func (s *Store) CountRows(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, fmt.Sprintf("SELECT COUNT(*) FROM %s", TableName))
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// Clear deletes all continuously written rows.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", TableName)); err != nil {
		return fmt.Errorf("failed to clear continuous writes table: %w", err)
	}
	return nil
}

// InsertRandomValue writes one row to the random data table.
func (s *Store) InsertRandomValue(ctx context.Context, value string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (data) VALUES (?)", RandomTableName), value)
	if err != nil {
		return fmt.Errorf("failed to insert random value: %w", err)
	}
	return nil
}
