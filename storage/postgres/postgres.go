// Package postgres provides a PostgreSQL implementation of the ledger.Store
// interface. Balance mutations use single-statement conditional updates, so
// atomicity comes from the database rather than row locks held across round
// trips.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

const pgUniqueViolation = "23505"

// Storage implements ledger.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{
		pool:   pool,
		config: config,
	}, nil
}

// EnsureSchema creates the required tables if they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS token_balances (
			user_id    TEXT PRIMARY KEY,
			tokens     BIGINT NOT NULL CHECK (tokens >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS token_purchases (
			external_id  TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			package_id   TEXT NOT NULL DEFAULT '',
			package_name TEXT NOT NULL DEFAULT '',
			tokens       BIGINT NOT NULL,
			amount_minor BIGINT NOT NULL DEFAULT 0,
			currency     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS token_purchases_user_idx
			ON token_purchases (user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS usage_events (
			id        BIGSERIAL PRIMARY KEY,
			user_id   TEXT NOT NULL,
			feature   TEXT NOT NULL,
			cost      BIGINT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS usage_events_user_idx
			ON usage_events (user_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Storage) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetBalance implements ledger.Store
func (s *Storage) GetBalance(ctx context.Context, userID string) (*ledger.Balance, error) {
	var b ledger.Balance
	b.UserID = userID

	err := s.pool.QueryRow(ctx,
		`SELECT tokens, updated_at FROM token_balances WHERE user_id = $1`,
		userID,
	).Scan(&b.Tokens, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	return &b, nil
}

// CreateBalance implements ledger.Store
func (s *Storage) CreateBalance(ctx context.Context, userID string, tokens int64) (*ledger.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	if tokens < 0 {
		return nil, ledger.ErrInvalidAmount
	}

	// DO NOTHING keeps an existing row intact; the follow-up SELECT returns
	// whichever row won.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_balances (user_id, tokens, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, tokens,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	return s.GetBalance(ctx, userID)
}

// Credit implements ledger.Store
func (s *Storage) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	var tokens int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO token_balances (user_id, tokens, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET
			tokens = token_balances.tokens + EXCLUDED.tokens,
			updated_at = now()
		 RETURNING tokens`,
		userID, amount,
	).Scan(&tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	return tokens, nil
}

// Debit implements ledger.Store
func (s *Storage) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	// The WHERE clause makes the debit conditional on sufficient funds; a
	// miss is disambiguated by reading the current balance afterwards.
	var tokens int64
	err := s.pool.QueryRow(ctx,
		`UPDATE token_balances
		 SET tokens = tokens - $2, updated_at = now()
		 WHERE user_id = $1 AND tokens >= $2
		 RETURNING tokens`,
		userID, amount,
	).Scan(&tokens)
	if err == nil {
		return tokens, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, &ledger.InsufficientTokensError{
		Required:  amount,
		Available: balance.Tokens,
	}
}

// RecordUsage implements ledger.Store
func (s *Storage) RecordUsage(ctx context.Context, ev *ledger.UsageEvent) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("invalid usage event")
	}

	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (user_id, feature, cost, timestamp)
		 VALUES ($1, $2, $3, $4)`,
		ev.UserID, string(ev.Feature), ev.Cost, timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageTotal implements ledger.Store
func (s *Storage) UsageTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_events WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get usage total: %w", err)
	}
	return total, nil
}

// CreatePurchase implements ledger.Store
func (s *Storage) CreatePurchase(ctx context.Context, p *ledger.Purchase) error {
	if p == nil || p.UserID == "" || p.ExternalID == "" {
		return fmt.Errorf("invalid purchase")
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_purchases
			(external_id, user_id, package_id, package_name, tokens,
			 amount_minor, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ExternalID, p.UserID, p.PackageID, p.PackageName, p.Tokens,
		p.AmountMinor, p.Currency, p.Status, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ledger.ErrDuplicatePurchase
		}
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	return nil
}

// GetPurchase implements ledger.Store
func (s *Storage) GetPurchase(ctx context.Context, externalID string) (*ledger.Purchase, error) {
	var p ledger.Purchase
	err := s.pool.QueryRow(ctx,
		`SELECT external_id, user_id, package_id, package_name, tokens,
			amount_minor, currency, status, created_at
		 FROM token_purchases WHERE external_id = $1`,
		externalID,
	).Scan(&p.ExternalID, &p.UserID, &p.PackageID, &p.PackageName, &p.Tokens,
		&p.AmountMinor, &p.Currency, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	return &p, nil
}

// ListPurchases implements ledger.Store
func (s *Storage) ListPurchases(ctx context.Context, userID string) ([]*ledger.Purchase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id, user_id, package_id, package_name, tokens,
			amount_minor, currency, status, created_at
		 FROM token_purchases
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Purchase
	for rows.Next() {
		var p ledger.Purchase
		if err := rows.Scan(&p.ExternalID, &p.UserID, &p.PackageID, &p.PackageName,
			&p.Tokens, &p.AmountMinor, &p.Currency, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}
	return out, nil
}
