// internal/utils/metrics/collector.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

const namespace = "keycurve"

// Collector держит метрики движка в собственном реестре.
// Все методы безопасны для nil-получателя: без коллектора метрики не пишутся.
type Collector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	volume     *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewCollector создает коллектор и регистрирует метрики процесса и Go runtime.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Engine operations by outcome",
			},
			[]string{"operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Engine operation duration in seconds, retries included",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_conflicts_total",
				Help:      "Optimistic write conflicts that triggered a retry",
			},
			[]string{"operation"},
		),
		volume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_volume_lamports_total",
				Help:      "Traded SOL volume in lamports",
			},
			[]string{"side"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Notifications dropped by the event bus",
			},
			[]string{"type"},
		),
	}

	c.registry.MustRegister(
		c.operations, c.duration, c.conflicts, c.volume, c.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveOperation записывает исход и длительность операции.
// Результат - "ok" или вид доменной ошибки, "internal" для прочих.
func (c *Collector) ObserveOperation(operation string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(domain.KindOf(err))
		if result == "" {
			result = "internal"
		}
	}
	c.operations.WithLabelValues(operation, result).Inc()
	c.duration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordConflict считает повтор после конфликта версий.
func (c *Collector) RecordConflict(operation string) {
	if c == nil {
		return
	}
	c.conflicts.WithLabelValues(operation).Inc()
}

// RecordTrade добавляет объем сделки.
func (c *Collector) RecordTrade(side string, lamports uint64) {
	if c == nil {
		return
	}
	c.volume.WithLabelValues(side).Add(float64(lamports))
}

// RecordDroppedEvent считает уведомление, которое шина не приняла.
func (c *Collector) RecordDroppedEvent(eventType string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(eventType).Inc()
}

// Registry возвращает реестр, например для тестов.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler отдает метрики в формате Prometheus.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
