// Package memory provides an in-memory implementation of the ledger.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/launchpilot/tokenledger/pkg/ledger"
)

// Storage implements ledger.Store using in-memory maps.
// A single mutex guards all maps, which also gives per-user atomicity
// for Credit and Debit.
type Storage struct {
	mu        sync.Mutex
	balances  map[string]*ledger.Balance
	usage     map[string][]*ledger.UsageEvent
	purchases map[string]*ledger.Purchase // keyed by ExternalID
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		balances:  make(map[string]*ledger.Balance),
		usage:     make(map[string][]*ledger.UsageEvent),
		purchases: make(map[string]*ledger.Purchase),
	}
}

// GetBalance implements ledger.Store
func (s *Storage) GetBalance(_ context.Context, userID string) (*ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return nil, ledger.ErrBalanceNotFound
	}

	// Return a copy to prevent external mutations
	bCopy := *b
	return &bCopy, nil
}

// CreateBalance implements ledger.Store
func (s *Storage) CreateBalance(_ context.Context, userID string, tokens int64) (*ledger.Balance, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	if tokens < 0 {
		return nil, ledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.balances[userID]; ok {
		bCopy := *existing
		return &bCopy, nil
	}

	b := &ledger.Balance{
		UserID:    userID,
		Tokens:    tokens,
		UpdatedAt: time.Now().UTC(),
	}
	s.balances[userID] = b

	bCopy := *b
	return &bCopy, nil
}

// Credit implements ledger.Store
func (s *Storage) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		b = &ledger.Balance{UserID: userID}
		s.balances[userID] = b
	}
	b.Tokens += amount
	b.UpdatedAt = time.Now().UTC()

	return b.Tokens, nil
}

// Debit implements ledger.Store
func (s *Storage) Debit(_ context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[userID]
	if !ok {
		return 0, ledger.ErrBalanceNotFound
	}

	if b.Tokens < amount {
		return 0, &ledger.InsufficientTokensError{
			Required:  amount,
			Available: b.Tokens,
		}
	}

	b.Tokens -= amount
	b.UpdatedAt = time.Now().UTC()

	return b.Tokens, nil
}

// RecordUsage implements ledger.Store
func (s *Storage) RecordUsage(_ context.Context, ev *ledger.UsageEvent) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("invalid usage event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evCopy := *ev
	if evCopy.Timestamp.IsZero() {
		evCopy.Timestamp = time.Now().UTC()
	}
	s.usage[ev.UserID] = append(s.usage[ev.UserID], &evCopy)
	return nil
}

// UsageTotal implements ledger.Store
func (s *Storage) UsageTotal(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, ev := range s.usage[userID] {
		total += ev.Cost
	}
	return total, nil
}

// CreatePurchase implements ledger.Store
func (s *Storage) CreatePurchase(_ context.Context, p *ledger.Purchase) error {
	if p == nil || p.UserID == "" || p.ExternalID == "" {
		return fmt.Errorf("invalid purchase")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ExternalID]; exists {
		return ledger.ErrDuplicatePurchase
	}

	pCopy := *p
	if pCopy.CreatedAt.IsZero() {
		pCopy.CreatedAt = time.Now().UTC()
	}
	s.purchases[p.ExternalID] = &pCopy
	return nil
}

// GetPurchase implements ledger.Store
func (s *Storage) GetPurchase(_ context.Context, externalID string) (*ledger.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[externalID]
	if !ok {
		return nil, nil
	}

	pCopy := *p
	return &pCopy, nil
}

// ListPurchases implements ledger.Store
func (s *Storage) ListPurchases(_ context.Context, userID string) ([]*ledger.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ledger.Purchase
	for _, p := range s.purchases {
		if p.UserID == userID {
			pCopy := *p
			out = append(out, &pCopy)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UsageEvents returns a copy of a user's recorded usage events, oldest first.
// Intended for tests and debugging.
func (s *Storage) UsageEvents(userID string) []*ledger.UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ledger.UsageEvent, 0, len(s.usage[userID]))
	for _, ev := range s.usage[userID] {
		evCopy := *ev
		out = append(out, &evCopy)
	}
	return out
}

// Clear removes all data. Useful for test isolation.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances = make(map[string]*ledger.Balance)
	s.usage = make(map[string][]*ledger.UsageEvent)
	s.purchases = make(map[string]*ledger.Purchase)
}
