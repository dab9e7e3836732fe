// Package postgres implements the repository contract on PostgreSQL through sqlx.
//
// Row locks are SELECT ... FOR UPDATE held until the surrounding transaction
// ends. Multi-row locks are always taken in ascending id order.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"paycore/internal/repository"
	"paycore/pkg/config"
	"paycore/pkg/errors"
)

type Store struct {
	db               *sqlx.DB
	statementTimeout time.Duration
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, statementTimeout time.Duration) *Store {
	return &Store{db: db, statementTimeout: statementTimeout}
}

// Connect opens the pool described by cfg and verifies it answers.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Infrastructure(err, "database unreachable")
	}
	return nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Errors from fn are
// returned unchanged after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Infrastructure(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if s.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.statementTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			_ = sqlTx.Rollback()
			return errors.Infrastructure(err, "failed to configure transaction")
		}
	}

	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapWriteError(err, "failed to commit transaction")
	}
	return nil
}

// namedValues turns "a, b" into ":a, :b" for NamedExec inserts.
func namedValues(columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = ":" + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}
