package telemetry

import "github.com/prometheus/client_golang/prometheus"

// ServiceMetrics counts saga traffic for one service, labelled by topic.
type ServiceMetrics struct {
	Published     *prometheus.CounterVec
	PublishFailed *prometheus.CounterVec
	Consumed      *prometheus.CounterVec
	Failed        *prometheus.CounterVec
	Retried       *prometheus.CounterVec
	DeadLettered  *prometheus.CounterVec
	Duplicates    *prometheus.CounterVec
	Connection    prometheus.Gauge
}

func NewServiceMetrics(service string, reg prometheus.Registerer) *ServiceMetrics {
	labels := prometheus.Labels{"service": service}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, []string{"topic"})
	}

	m := &ServiceMetrics{
		Published:     counter("saga_events_published_total", "Total saga events published by service"),
		PublishFailed: counter("saga_events_publish_failed_total", "Total saga events that could not be published"),
		Consumed:      counter("saga_events_consumed_total", "Total saga events consumed by service"),
		Failed:        counter("saga_events_failed_total", "Total saga event processing failures"),
		Retried:       counter("saga_events_retried_total", "Total saga handler retries"),
		DeadLettered:  counter("saga_events_dead_lettered_total", "Total saga events routed to the dead-letter queue"),
		Duplicates:    counter("saga_events_duplicate_total", "Total redelivered saga events skipped by the idempotency store"),
		Connection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "saga_broker_connection_state",
			Help:        "Broker connectivity: 0 disconnected, 1 connecting, 2 connected",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.Published, m.PublishFailed, m.Consumed, m.Failed, m.Retried, m.DeadLettered, m.Duplicates, m.Connection)
	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry.
func NewNopMetrics(service string) *ServiceMetrics {
	return NewServiceMetrics(service, prometheus.NewRegistry())
}
