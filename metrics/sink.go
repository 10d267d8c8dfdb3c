// Package metrics wires hoard's StatsSink interface to
// github.com/prometheus/client_golang, the one concrete collaborator
// SPEC_FULL.md's "DOMAIN STACK" section names for the optional statistics
// surface spec.md §1 only describes as an external interface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements hoard.StatsSink. It is kept in its own package
// (rather than behind a build tag in the root package) so importing hoard
// never pulls in the Prometheus client for callers who only want the
// no-op default.
type PrometheusSink struct {
	superblocksMinted    prometheus.Counter
	superblocksReleased  prometheus.Counter
	tlabDrainBytes       prometheus.Counter
	largeObjectsReleased prometheus.Counter
	largeBytesReleased   prometheus.Counter
}

// NewPrometheusSink builds a sink and registers its collectors against reg.
// Pass prometheus.DefaultRegisterer to use the global registry.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) *PrometheusSink {
	s := &PrometheusSink{
		superblocksMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hoard",
			Name:      "superblocks_minted_total",
			Help:      "Superblocks mapped from the page source.",
		}),
		superblocksReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hoard",
			Name:      "superblocks_released_total",
			Help:      "Superblocks unmapped back to the page source.",
		}),
		tlabDrainBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hoard",
			Name:      "tlab_drain_bytes_total",
			Help:      "Bytes drained from thread-local caches through owner dispatch.",
		}),
		largeObjectsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hoard",
			Name:      "large_objects_released_total",
			Help:      "Large objects unmapped back to the page source.",
		}),
		largeBytesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hoard",
			Name:      "large_bytes_released_total",
			Help:      "Bytes of large objects unmapped back to the page source.",
		}),
	}
	reg.MustRegister(
		s.superblocksMinted,
		s.superblocksReleased,
		s.tlabDrainBytes,
		s.largeObjectsReleased,
		s.largeBytesReleased,
	)
	return s
}

func (s *PrometheusSink) SuperblockMinted()   { s.superblocksMinted.Inc() }
func (s *PrometheusSink) SuperblockReleased() { s.superblocksReleased.Inc() }

func (s *PrometheusSink) TLABDrain(bytes int64) {
	if bytes > 0 {
		s.tlabDrainBytes.Add(float64(bytes))
	}
}

func (s *PrometheusSink) LargeObjectReleased(bytes int64) {
	s.largeObjectsReleased.Inc()
	if bytes > 0 {
		s.largeBytesReleased.Add(float64(bytes))
	}
}
