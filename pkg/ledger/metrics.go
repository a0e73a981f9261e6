package ledger

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordCredit records a credit attempt.
	RecordCredit(amount int64, success bool)

	// RecordDebit records a debit attempt. insufficient is true when the
	// debit was rejected for lack of tokens (an expected outcome, counted
	// separately from storage failures).
	RecordDebit(amount int64, success, insufficient bool)

	// RecordGrant records a first-use balance grant.
	RecordGrant()

	// RecordDuplicatePurchase records a replayed payment event that was
	// skipped without crediting.
	RecordDuplicatePurchase()

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCredit(amount int64, success bool)                       {}
func (n *NoopMetrics) RecordDebit(amount int64, success, insufficient bool)          {}
func (n *NoopMetrics) RecordGrant()                                                  {}
func (n *NoopMetrics) RecordDuplicatePurchase()                                      {}
func (n *NoopMetrics) RecordStorageOperation(op string, d time.Duration, err error)  {}
