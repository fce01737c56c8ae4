package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the coordinator
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Connection metrics
	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	ActiveRooms       prometheus.Gauge

	// Delivery metrics
	MessagesSent   prometheus.Counter
	MessagesFailed prometheus.Counter

	// Replication metrics
	ReplicationPublished prometheus.Counter
	ReplicationReceived  prometheus.Counter
	ReplicationDropped   prometheus.Counter

	// Persistence metrics
	PersistFailures prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Current number of live WebSocket connections",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Current number of online users",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Current number of rooms with at least one member",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of frames delivered to clients",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Total number of frames dropped due to slow or dead clients",
		}),
		ReplicationPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_published_total",
			Help:      "Total number of events published to the broker",
		}),
		ReplicationReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_received_total",
			Help:      "Total number of sibling-instance events applied locally",
		}),
		ReplicationDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_dropped_total",
			Help:      "Total number of broker publishes that failed",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Total number of failed mutation persistence calls",
		}),
	}

	registry.MustRegister(
		c.ActiveConnections,
		c.OnlineUsers,
		c.ActiveRooms,
		c.MessagesSent,
		c.MessagesFailed,
		c.ReplicationPublished,
		c.ReplicationReceived,
		c.ReplicationDropped,
		c.PersistFailures,
	)

	return c
}

// Handler returns the HTTP handler exposing this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
