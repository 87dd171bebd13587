// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/euphoria1203/campus-email/internal/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	db     *sqlx.DB
	q      querier
	inTx   bool
	opts   *options
	logger *slog.Logger
}

// New creates a PostgreSQL store on db. Call Connect to verify the
// connection and create the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		q:      db,
		opts:   o,
		logger: o.logger,
	}
}

// Open connects to dsn with the lib/pq driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db, opts...), nil
}

// Connect pings the database and ensures the schema exists.
func (s *Store) Connect(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL")
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		account_id VARCHAR(255) NOT NULL DEFAULT '',
		folder VARCHAR(255) NOT NULL DEFAULT 'inbox',
		from_address TEXT NOT NULL DEFAULT '',
		to_address TEXT NOT NULL DEFAULT '',
		cc_address TEXT NOT NULL DEFAULT '',
		bcc_address TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		plain_content TEXT NOT NULL DEFAULT '',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		is_starred BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		has_attachment BOOLEAN NOT NULL DEFAULT FALSE,
		priority SMALLINT NOT NULL DEFAULT 3,
		send_time TIMESTAMPTZ,
		receive_time TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		email_address VARCHAR(320) NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		smtp_host VARCHAR(255) NOT NULL DEFAULT '',
		smtp_port INTEGER NOT NULL DEFAULT 0,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id UUID PRIMARY KEY,
		message_id VARCHAR(255) NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		file_type VARCHAR(255) NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_address ON accounts(lower(email_address))`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder ON messages(owner_id, folder, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_scheduled ON messages(send_time) WHERE folder = 'scheduled' AND is_deleted = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

func (s *Store) Messages() store.MessageStore       { return messages{s} }
func (s *Store) Accounts() store.AccountStore       { return accounts{s} }
func (s *Store) Attachments() store.AttachmentStore { return attachments{s} }

// WithinTx runs fn inside a database transaction. A store already bound
// to a transaction runs fn in it directly.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txs := &Store{db: s.db, q: tx, inTx: true, opts: s.opts, logger: s.logger}
	if err := fn(txs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.timeout)
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// mapErr translates driver errors into store sentinels.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrDuplicateEntry
	}
	return fmt.Errorf("%s: %w", op, err)
}

// validID reports whether id can be compared against a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func requireRow(res sql.Result, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
