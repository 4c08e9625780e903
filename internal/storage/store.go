package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	pkgerrors "github.com/pkg/errors"

	"github.com/yzernik/squeakroad-sub000/internal/config"
)

const uniqueViolation = "23505"

// Store is the relational source of truth for the node.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL through the pgx database/sql driver.
func Open(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("db.url is required")
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "store.Open.Open: ")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "store.Open.Ping: ")
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) nowMs() int64 { return s.now().UnixMilli() }

// Init creates any missing tables.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return pkgerrors.Wrap(err, "store.Init.Exec: ")
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS squeak (
		hash BYTEA PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		squeak BYTEA NOT NULL,
		reply_hash BYTEA,
		resqueak_hash BYTEA,
		block_hash BYTEA NOT NULL,
		block_height INTEGER NOT NULL,
		squeak_time BIGINT NOT NULL,
		author_public_key BYTEA NOT NULL,
		recipient_public_key BYTEA,
		block_header BYTEA NOT NULL,
		secret_key BYTEA,
		content TEXT,
		liked_time_ms BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS squeak_author_height_idx ON squeak (author_public_key, block_height)`,
	`CREATE TABLE IF NOT EXISTS profile (
		profile_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		profile_name TEXT NOT NULL UNIQUE CHECK (profile_name <> ''),
		private_key BYTEA,
		public_key BYTEA NOT NULL UNIQUE,
		following BOOLEAN NOT NULL DEFAULT FALSE,
		profile_image BYTEA
	)`,
	`CREATE TABLE IF NOT EXISTS peer (
		peer_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		peer_name TEXT,
		network TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		autoconnect BOOLEAN NOT NULL DEFAULT FALSE,
		share_for_free BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (host, port)
	)`,
	`CREATE TABLE IF NOT EXISTS sent_offer (
		sent_offer_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		squeak_hash BYTEA NOT NULL,
		payment_hash BYTEA NOT NULL UNIQUE,
		nonce BYTEA NOT NULL,
		price_msat BIGINT NOT NULL,
		payment_request TEXT NOT NULL,
		invoice_time INTEGER NOT NULL,
		invoice_expiry INTEGER NOT NULL,
		peer_network TEXT NOT NULL,
		peer_host TEXT NOT NULL,
		peer_port INTEGER NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS received_offer (
		received_offer_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		squeak_hash BYTEA NOT NULL,
		price_msat BIGINT NOT NULL,
		payment_hash BYTEA NOT NULL UNIQUE,
		nonce BYTEA NOT NULL,
		payment_point BYTEA NOT NULL,
		invoice_timestamp INTEGER NOT NULL,
		invoice_expiry INTEGER NOT NULL,
		payment_request TEXT NOT NULL,
		destination TEXT NOT NULL,
		lightning_host TEXT NOT NULL,
		lightning_port INTEGER NOT NULL,
		peer_network TEXT NOT NULL,
		peer_host TEXT NOT NULL,
		peer_port INTEGER NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS received_payment (
		received_payment_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		squeak_hash BYTEA NOT NULL,
		payment_hash BYTEA NOT NULL UNIQUE,
		price_msat BIGINT NOT NULL,
		settle_index BIGINT NOT NULL,
		peer_network TEXT NOT NULL,
		peer_host TEXT NOT NULL,
		peer_port INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sent_payment (
		sent_payment_id BIGSERIAL PRIMARY KEY,
		created_time_ms BIGINT NOT NULL,
		peer_network TEXT NOT NULL,
		peer_host TEXT NOT NULL,
		peer_port INTEGER NOT NULL,
		squeak_hash BYTEA NOT NULL,
		payment_hash BYTEA NOT NULL UNIQUE,
		secret_key BYTEA NOT NULL,
		price_msat BIGINT NOT NULL,
		node_pubkey TEXT NOT NULL,
		valid BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "user" (
		username TEXT PRIMARY KEY,
		created_time_ms BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS config (
		username TEXT PRIMARY KEY,
		sell_price_msat BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS twitter_account (
		twitter_account_id BIGSERIAL PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE,
		profile_id BIGINT NOT NULL,
		bearer_token TEXT NOT NULL
	)`,
}

// isUniqueViolation reports a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// insertReturningID runs an INSERT ... ON CONFLICT DO NOTHING RETURNING id.
// A conflict yields (nil, nil).
func (s *Store) insertReturningID(ctx context.Context, op, query string, args ...any) (*int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, op)
	}
	return &id, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return pkgerrors.Wrap(err, op)
	}
	return nil
}

func (s *Store) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, pkgerrors.Wrap(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.Wrap(err, op)
	}
	return n, nil
}

// placeholders renders "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}
