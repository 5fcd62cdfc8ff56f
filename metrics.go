package docindex

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the counters of one DB. They are always maintained, and
// exported only if Options.Registerer is set. When several DBs share a
// registerer, only the first one's counters are exported.
type metrics struct {
	puts          *prometheus.CounterVec
	removes       *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	rejectedSaves prometheus.Counter
	rollbacks     prometheus.Counter
	undoneOps     prometheus.Counter
	journalErrors prometheus.Counter
	timelineDiff  prometheus.Counter
	rebuilds      *prometheus.CounterVec
	saveDuration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "index",
			Name:      "puts",
		}, []string{"index"}),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "index",
			Name:      "removes",
		}, []string{"index"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "index",
			Name:      "duplicate_keys",
		}, []string{"index"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "index",
			Name:      "rebuilds",
		}, []string{"index"}),
		rejectedSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "record",
			Name:      "rejected_saves",
		}),
		timelineDiff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "record",
			Name:      "timeline_diffs",
			Help:      "Collection index diffs derived from change timelines instead of snapshots.",
		}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "record",
			Name:      "save_duration_ms",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "tx",
			Name:      "rollbacks",
		}),
		undoneOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "tx",
			Name:      "undone_index_ops",
		}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "journal",
			Name:      "append_errors",
		}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, err
				}
			}
		}
	}
	return m, nil
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.puts, m.removes, m.duplicates, m.rebuilds, m.rejectedSaves, m.timelineDiff, m.saveDuration, m.rollbacks, m.undoneOps, m.journalErrors}
}

func (m *metrics) put(idx *Index)       { m.puts.WithLabelValues(idx.name).Inc() }
func (m *metrics) remove(idx *Index)    { m.removes.WithLabelValues(idx.name).Inc() }
func (m *metrics) duplicate(idx *Index) { m.duplicates.WithLabelValues(idx.name).Inc() }
