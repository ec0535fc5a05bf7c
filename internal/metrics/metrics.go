// Package metrics - Prometheus-метрики движка рассылки.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "price_alerts"

// Metrics - набор метрик. Нулевой указатель допустим: все методы становятся no-op.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal         prometheus.Counter
	CycleDuration       prometheus.Histogram
	EventsTotal         prometheus.Counter
	FetchFailuresTotal  prometheus.Counter
	IntegrityViolations prometheus.Counter
	DeliveryFailures    *prometheus.CounterVec
	Subscriptions       prometheus.Gauge
	PriceGeneration     prometheus.Gauge
}

// New создает метрики в собственном реестре (без глобального состояния)
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Total dispatch cycles run",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Dispatch cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_events_total",
			Help:      "Total notification events emitted",
		}),
		FetchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetch_failures_total",
			Help:      "Failed price refreshes",
		}),
		IntegrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_integrity_violations_total",
			Help:      "Pairs skipped because of a missing or zero baseline",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Notification deliveries that returned an error",
		}, []string{"notifier"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Active subscriptions",
		}),
		PriceGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_cache_generation",
			Help:      "Generation counter of the price cache",
		}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.EventsTotal,
		m.FetchFailuresTotal,
		m.IntegrityViolations,
		m.DeliveryFailures,
		m.Subscriptions,
		m.PriceGeneration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler отдает /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry нужен тестам для чтения значений
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveCycle(d time.Duration, events int) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.EventsTotal.Add(float64(events))
}

func (m *Metrics) FetchFailed() {
	if m == nil {
		return
	}
	m.FetchFailuresTotal.Inc()
}

func (m *Metrics) IntegrityViolation() {
	if m == nil {
		return
	}
	m.IntegrityViolations.Inc()
}

func (m *Metrics) DeliveryFailed(notifier string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(notifier).Inc()
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

func (m *Metrics) SetGeneration(gen uint64) {
	if m == nil {
		return
	}
	m.PriceGeneration.Set(float64(gen))
}
