// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. Registered on a
// caller-provided registerer so tests can use isolated registries.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	ChunksIndexed  prometheus.Counter
	RecordsDeleted prometheus.Counter
	PhaseSeconds   *prometheus.HistogramVec
	QueueLag       prometheus.Histogram
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docsync",
			Name:      "documents_total",
			Help:      "Processed documents by terminal outcome and event origin.",
		}, []string{"outcome", "origin"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docsync",
			Name:      "chunks_indexed_total",
			Help:      "Chunk records written to the search index.",
		}),
		RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docsync",
			Name:      "records_deleted_total",
			Help:      "Records removed from the search index.",
		}),
		PhaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docsync",
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"phase"}),
		QueueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docsync",
			Name:      "event_lag_seconds",
			Help:      "Time between event enqueue and terminal outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.ChunksIndexed, m.RecordsDeleted, m.PhaseSeconds, m.QueueLag)
	}
	return m
}

func (m *Metrics) observeTiming(t Timing) {
	phases := []struct {
		name string
		ms   int64
	}{
		{"fetch", t.FetchMS},
		{"extract", t.ExtractMS},
		{"hash", t.HashMS},
		{"dedup", t.DedupMS},
		{"chunk", t.ChunkMS},
		{"embed", t.EmbedMS},
		{"index", t.IndexMS},
		{"total", t.TotalMS},
	}
	for _, p := range phases {
		if p.ms > 0 || p.name == "total" {
			m.PhaseSeconds.WithLabelValues(p.name).Observe(float64(p.ms) / 1000)
		}
	}
}
