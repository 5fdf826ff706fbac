package house

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the auction house counters.
type metrics struct {
	Created     prometheus.Counter
	Proposals   *prometheus.CounterVec
	Completions *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Settlement  prometheus.Counter
}

// newMetrics registers the house metrics on reg. open reports the number of
// auctions accepting proposals at scrape time.
func newMetrics(reg prometheus.Registerer, open func() float64) *metrics {
	m := &metrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "auctions_created_total",
			Help:      "Total number of auctions created",
		}),

		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "proposals_total",
			Help:      "Total number of proposals by result",
		}, []string{"result"}),

		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "completions_total",
			Help:      "Total number of completion passes by result",
		}, []string{"result"}),

		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "decryption_failures_total",
			Help:      "Proposals that could not be revealed, by reason",
		}, []string{"reason"}),

		Settlement: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "settlement_errors_total",
			Help:      "Ledger intents that failed",
		}),
	}

	if reg == nil {
		return m
	}

	reg.MustRegister(
		m.Created,
		m.Proposals,
		m.Completions,
		m.Failures,
		m.Settlement,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tlock",
			Subsystem: "house",
			Name:      "open_auctions",
			Help:      "Auctions accepting proposals",
		}, open),
	)

	return m
}
