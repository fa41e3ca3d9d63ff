// Package metrics constructs the metrics the application will track.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "powledger"

var (
	// Web Metrics
	Requests = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "requests_total",
			Help:      "Total number of requests handled.",
		},
	)

	Errors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "errors_total",
			Help:      "Total number of requests that returned an error.",
		},
	)

	// Ledger Metrics
	BlocksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "blocks_received_total",
			Help:      "Total number of blocks proposed by peers, labeled by what the node did with them.",
		},
		[]string{"result"}, // appended, replaced, kept, ignored, rejected
	)

	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of transactions submitted to the node.",
		},
		[]string{"source", "outcome"}, // source: client, peer, wallet; outcome: accepted, duplicate, rejected
	)
)

// Ledger represents the node values exposed as gauges.
type Ledger interface {
	Length() int
	MempoolLength() int
	PeerCount() int
}

// RegisterLedger exposes the chain length, mempool size and peer count of the
// ledger with the registerer.
func RegisterLedger(reg prometheus.Registerer, l Ledger) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "chain_length",
				Help:      "Number of blocks in the chain including genesis.",
			},
			func() float64 { return float64(l.Length()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "mempool_size",
				Help:      "Number of transactions waiting to be mined.",
			},
			func() float64 { return float64(l.MempoolLength()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "known_peers",
				Help:      "Number of peers the node shares blocks with.",
			},
			func() float64 { return float64(l.PeerCount()) },
		),
	}

	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}

	return nil
}
