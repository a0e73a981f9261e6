// Package redis provides a Redis implementation of the ledger.Store
// interface. Balance mutations run as Lua scripts, which Redis executes
// atomically.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Storage implements ledger.Store using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "tokenledger:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "tokenledger:",
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "tokenledger:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Credit, creating the balance hash if absent
	s.scripts["credit"] = redis.NewScript(`
		local balanceKey = KEYS[1]
		local amount = tonumber(ARGV[1])
		local now = ARGV[2]

		local tokens = redis.call('HINCRBY', balanceKey, 'tokens', amount)
		redis.call('HSET', balanceKey, 'updatedAt', now)

		return tokens
	`)

	// Debit only when the balance exists and covers the amount
	s.scripts["debit"] = redis.NewScript(`
		local balanceKey = KEYS[1]
		local amount = tonumber(ARGV[1])
		local now = ARGV[2]

		if redis.call('EXISTS', balanceKey) == 0 then
			return {-1, 'not_found'}
		end

		local current = tonumber(redis.call('HGET', balanceKey, 'tokens') or '0')
		if current < amount then
			return {current, 'insufficient'}
		end

		local tokens = redis.call('HINCRBY', balanceKey, 'tokens', -amount)
		redis.call('HSET', balanceKey, 'updatedAt', now)

		return {tokens, 'ok'}
	`)

	// Create the balance hash only when absent, returning the winning value
	s.scripts["create"] = redis.NewScript(`
		local balanceKey = KEYS[1]
		local tokens = tonumber(ARGV[1])
		local now = ARGV[2]

		if redis.call('EXISTS', balanceKey) == 1 then
			local current = tonumber(redis.call('HGET', balanceKey, 'tokens') or '0')
			local updatedAt = redis.call('HGET', balanceKey, 'updatedAt') or ''
			return {current, updatedAt}
		end

		redis.call('HSET', balanceKey, 'tokens', tokens, 'updatedAt', now)
		return {tokens, now}
	`)
}

func (s *Storage) balanceKey(userID string) string {
	return s.config.KeyPrefix + "balance:" + userID
}

func (s *Storage) purchaseKey(externalID string) string {
	return s.config.KeyPrefix + "purchase:" + externalID
}

func (s *Storage) purchaseIndexKey(userID string) string {
	return s.config.KeyPrefix + "purchases:" + userID
}

func (s *Storage) usageEventsKey(userID string) string {
	return s.config.KeyPrefix + "usage:" + userID
}

func (s *Storage) usageTotalKey(userID string) string {
	return s.config.KeyPrefix + "usage-total:" + userID
}

// GetBalance implements ledger.Store
func (s *Storage) GetBalance(ctx context.Context, userID string) (*ledger.Balance, error) {
	data, err := s.client.HGetAll(ctx, s.balanceKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if len(data) == 0 {
		return nil, ledger.ErrBalanceNotFound
	}

	tokens, _ := strconv.ParseInt(data["tokens"], 10, 64)
	return &ledger.Balance{
		UserID:    userID,
		Tokens:    tokens,
		UpdatedAt: parseTime(data["updatedAt"]),
	}, nil
}

// CreateBalance implements ledger.Store
func (s *Storage) CreateBalance(ctx context.Context, userID string, tokens int64) (*ledger.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	if tokens < 0 {
		return nil, ledger.ErrInvalidAmount
	}

	now := time.Now().UTC()
	res, err := s.scripts["create"].Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		tokens, now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("unexpected script result: %v", res)
	}

	current, _ := vals[0].(int64)
	updatedAt, _ := vals[1].(string)
	return &ledger.Balance{
		UserID:    userID,
		Tokens:    current,
		UpdatedAt: parseTime(updatedAt),
	}, nil
}

// Credit implements ledger.Store
func (s *Storage) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	res, err := s.scripts["credit"].Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		amount, time.Now().UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}
	return res, nil
}

// Debit implements ledger.Store
func (s *Storage) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	res, err := s.scripts["debit"].Run(ctx, s.client,
		[]string{s.balanceKey(userID)},
		amount, time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, fmt.Errorf("unexpected script result: %v", res)
	}

	tokens, _ := vals[0].(int64)
	switch status, _ := vals[1].(string); status {
	case "ok":
		return tokens, nil
	case "not_found":
		return 0, ledger.ErrBalanceNotFound
	case "insufficient":
		return 0, &ledger.InsufficientTokensError{
			Required:  amount,
			Available: tokens,
		}
	default:
		return 0, fmt.Errorf("unexpected debit status %q", status)
	}
}

// RecordUsage implements ledger.Store.
// The event list and the running total are written in one pipeline.
func (s *Storage) RecordUsage(ctx context.Context, ev *ledger.UsageEvent) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("invalid usage event")
	}

	evCopy := *ev
	if evCopy.Timestamp.IsZero() {
		evCopy.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(&evCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.usageEventsKey(ev.UserID), data)
	pipe.IncrBy(ctx, s.usageTotalKey(ev.UserID), ev.Cost)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// UsageTotal implements ledger.Store
func (s *Storage) UsageTotal(ctx context.Context, userID string) (int64, error) {
	res, err := s.client.Get(ctx, s.usageTotalKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage total: %w", err)
	}

	total, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt usage total: %w", err)
	}
	return total, nil
}

// CreatePurchase implements ledger.Store.
// SET NX on the purchase key is the idempotency barrier; the user index is
// only appended after winning it.
func (s *Storage) CreatePurchase(ctx context.Context, p *ledger.Purchase) error {
	if p == nil || p.UserID == "" || p.ExternalID == "" {
		return fmt.Errorf("invalid purchase")
	}

	pCopy := *p
	if pCopy.CreatedAt.IsZero() {
		pCopy.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(&pCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.purchaseKey(p.ExternalID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}
	if !created {
		return ledger.ErrDuplicatePurchase
	}

	if err := s.client.RPush(ctx, s.purchaseIndexKey(p.UserID), p.ExternalID).Err(); err != nil {
		return fmt.Errorf("failed to index purchase: %w", err)
	}
	return nil
}

// GetPurchase implements ledger.Store
func (s *Storage) GetPurchase(ctx context.Context, externalID string) (*ledger.Purchase, error) {
	res, err := s.client.Get(ctx, s.purchaseKey(externalID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}

	var p ledger.Purchase
	if err := json.Unmarshal([]byte(res), &p); err != nil {
		return nil, fmt.Errorf("corrupt purchase record: %w", err)
	}
	return &p, nil
}

// ListPurchases implements ledger.Store.
// The index list is append-ordered, so walking it backwards yields newest
// first.
func (s *Storage) ListPurchases(ctx context.Context, userID string) ([]*ledger.Purchase, error) {
	ids, err := s.client.LRange(ctx, s.purchaseIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	out := make([]*ledger.Purchase, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		p, err := s.GetPurchase(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
