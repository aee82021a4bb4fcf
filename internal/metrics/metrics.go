// Package metrics collects engine counters and timings on a private
// prometheus registry. There is no HTTP exposition; `parley doctor` prints a
// snapshot and embedders can gather from the registry directly.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the engine instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal           *prometheus.CounterVec
	StepsTotal           *prometheus.CounterVec
	StepRetriesTotal     prometheus.Counter
	StepDuration         *prometheus.HistogramVec
	StepsInFlight        prometheus.Gauge
	ContextEvictions     prometheus.Counter
	ContextTruncations   prometheus.Counter
	ProfileBuildsTotal   *prometheus.CounterVec
	RegistryEvictedTotal prometheus.Counter
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "turns_total",
			Help:      "Executed turns by terminal status.",
		}, []string{"status"}),

		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "steps_total",
			Help:      "Executed steps by kind and terminal status.",
		}, []string{"kind", "status"}),

		StepRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "step_retries_total",
			Help:      "Retry attempts made for transient step failures.",
		}),

		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "step_duration_seconds",
			Help:      "Step execution duration by kind.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),

		StepsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "steps_in_flight",
			Help:      "Steps currently in running state.",
		}),

		ContextEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "context_evictions_total",
			Help:      "Condensed history entries evicted by render budget pressure.",
		}),

		ContextTruncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "context_truncations_total",
			Help:      "Renders that had to clip a lone oversized turn.",
		}),

		ProfileBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "profile_builds_total",
			Help:      "Background profile builds by outcome.",
		}, []string{"outcome"}),

		RegistryEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "registry_refs_evicted_total",
			Help:      "Entity references dropped by the staleness window.",
		}),
	}

	m.registry.MustRegister(
		m.TurnsTotal,
		m.StepsTotal,
		m.StepRetriesTotal,
		m.StepDuration,
		m.StepsInFlight,
		m.ContextEvictions,
		m.ContextTruncations,
		m.ProfileBuildsTotal,
		m.RegistryEvictedTotal,
	)
	return m
}

// Registry exposes the underlying registry for embedders.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot renders the current metric values as sorted text lines, for the
// doctor command.
func (m *Metrics) Snapshot() []string {
	families, err := m.registry.Gather()
	if err != nil {
		return []string{fmt.Sprintf("metrics gather failed: %v", err)}
	}

	var lines []string
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			name := fam.GetName()
			if labels := formatLabels(metric); labels != "" {
				name += "{" + labels + "}"
			}
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.3f", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	return lines
}

func formatLabels(m *dto.Metric) string {
	pairs := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return strings.Join(pairs, ",")
}
