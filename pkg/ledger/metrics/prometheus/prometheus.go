// Package prommetrics provides a Prometheus implementation of ledger.Metrics.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements ledger.Metrics using Prometheus.
type Metrics struct {
	creditsTotal            *prometheus.CounterVec
	creditAmount            prometheus.Histogram
	debitsTotal             *prometheus.CounterVec
	debitAmount             prometheus.Histogram
	grantsTotal             prometheus.Counter
	duplicatePurchasesTotal prometheus.Counter
	storageOpsDuration      *prometheus.HistogramVec
	storageOpsErrors        *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		creditsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_credits_total",
			Help:      "Total number of balance credit attempts.",
		}, []string{"success"}),

		creditAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_credit_amount",
			Help:      "Distribution of credited token amounts.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000},
		}),

		debitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_debits_total",
			Help:      "Total number of balance debit attempts.",
		}, []string{"success", "insufficient"}),

		debitAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_debit_amount",
			Help:      "Distribution of debited token amounts.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		}),

		grantsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_grants_total",
			Help:      "Total number of first-use balance grants.",
		}),

		duplicatePurchasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_duplicate_purchases_total",
			Help:      "Total number of replayed payment events skipped without crediting.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_storage_operation_duration_seconds",
			Help:      "Latency of ledger storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_storage_operation_errors_total",
			Help:      "Total number of ledger storage operation errors.",
		}, []string{"operation"}),
	}
}

// RecordCredit records a credit attempt.
func (m *Metrics) RecordCredit(amount int64, success bool) {
	m.creditsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		m.creditAmount.Observe(float64(amount))
	}
}

// RecordDebit records a debit attempt.
func (m *Metrics) RecordDebit(amount int64, success, insufficient bool) {
	m.debitsTotal.WithLabelValues(strconv.FormatBool(success), strconv.FormatBool(insufficient)).Inc()
	if success {
		m.debitAmount.Observe(float64(amount))
	}
}

// RecordGrant records a first-use balance grant.
func (m *Metrics) RecordGrant() {
	m.grantsTotal.Inc()
}

// RecordDuplicatePurchase records a replayed payment event.
func (m *Metrics) RecordDuplicatePurchase() {
	m.duplicatePurchasesTotal.Inc()
}

// RecordStorageOperation records the duration and status of a storage operation.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
