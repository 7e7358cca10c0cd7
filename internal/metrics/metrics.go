package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stored_value_mutations_total",
		Help: "Stored-value ledger mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	LedgerVersionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stored_value_version_conflicts_total",
		Help: "Compare-and-set conflicts that triggered a retry",
	}, []string{"operation"})

	LedgerMutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stored_value_mutation_duration_seconds",
		Help:    "Time spent applying a ledger mutation, retries included",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	LedgerTransactionsStreamedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stored_value_transactions_streamed_total",
		Help: "Ledger transactions received from the transaction stream",
	}, []string{"type"})

	DiscountCodeRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discount_code_rejections_total",
		Help: "Discount codes dropped from a settlement, by reason",
	}, []string{"reason"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Settlement calculations by kind and outcome",
	}, []string{"kind", "outcome"})
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Outcome maps an error to a metric label
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
