package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	created      prometheus.Counter
	canceled     prometheus.Counter
	exchanged    prometheus.Counter
	rejected     *prometheus.CounterVec
	feeCollected prometheus.Counter
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process-wide escrow metric set, registering it on first
// use.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			created: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_created_total",
				Help: "Count of escrow records opened.",
			}),
			canceled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_canceled_total",
				Help: "Count of escrow records canceled by their creator.",
			}),
			exchanged: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_exchanged_total",
				Help: "Count of escrow records settled by exchange.",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejected_total",
				Help: "Count of rejected operations by entry point.",
			}, []string{"op"}),
			feeCollected: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_fee_collected_units_total",
				Help: "Cumulative exchange fees collected, in balance units.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.created,
			escrowRegistry.canceled,
			escrowRegistry.exchanged,
			escrowRegistry.rejected,
			escrowRegistry.feeCollected,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

func (m *EscrowMetrics) RecordCanceled() {
	if m == nil {
		return
	}
	m.canceled.Inc()
}

func (m *EscrowMetrics) RecordExchanged(fee *big.Int) {
	if m == nil {
		return
	}
	m.exchanged.Inc()
	if fee != nil && fee.IsInt64() {
		m.feeCollected.Add(float64(fee.Int64()))
	}
}

func (m *EscrowMetrics) RecordRejected(op string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(op).Inc()
}
