// Package metrics provides Prometheus instrumentation for the sync engine
// and the hub.
//
// All recording methods are safe to call on a nil *Metrics, so components
// can run uninstrumented in tests and tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "syncboard"

// Metrics holds every collector used by the engine.
type Metrics struct {
	// Writes counts durable writes by op (create, update, delete) and
	// result (ok, error).
	Writes *prometheus.CounterVec

	// Rollbacks counts compensating removals after a failed create.
	Rollbacks prometheus.Counter

	// Snapshots counts durable snapshots ingested by boards.
	Snapshots prometheus.Counter

	// SnapshotSize is the shape count of the last ingested snapshot.
	SnapshotSize prometheus.Gauge

	// ThrottleSends counts payloads actually sent, by throttle name.
	ThrottleSends *prometheus.CounterVec

	// ThrottleCoalesced counts payloads that replaced an unsent pending one.
	ThrottleCoalesced *prometheus.CounterVec

	// PresencePeers is the number of records in the last presence map seen.
	PresencePeers prometheus.Gauge

	// PendingExpired counts pending-shape broadcasts cleared by timeout
	// rather than by confirmation.
	PendingExpired prometheus.Counter

	// HubConnections is the number of open hub websocket connections.
	HubConnections prometheus.Gauge

	// HubMessages counts inbound hub frames by type.
	HubMessages *prometheus.CounterVec

	// DisconnectCleanups counts presence records removed by connection loss.
	DisconnectCleanups prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "writes_total",
			Help:      "Durable shape writes by operation and result.",
		}, []string{"op", "result"}),
		Rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "rollbacks_total",
			Help:      "Optimistic creates removed after a failed durable write.",
		}),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "snapshots_total",
			Help:      "Durable snapshots ingested.",
		}),
		SnapshotSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "board",
			Name:      "snapshot_shapes",
			Help:      "Shapes in the last ingested snapshot.",
		}),
		ThrottleSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "sends_total",
			Help:      "Throttled payloads sent.",
		}, []string{"throttle"}),
		ThrottleCoalesced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "coalesced_total",
			Help:      "Throttled payloads overwritten before being sent.",
		}, []string{"throttle"}),
		PresencePeers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "peers",
			Help:      "Presence records in the last map received.",
		}),
		PendingExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "pending_expired_total",
			Help:      "Pending-shape broadcasts cleared by timeout.",
		}),
		HubConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		HubMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		DisconnectCleanups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "disconnect_cleanups_total",
			Help:      "Presence records removed because their connection ended.",
		}),
	}
}

// Write records the outcome of one durable write.
func (m *Metrics) Write(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Writes.WithLabelValues(op, result).Inc()
}

// Rollback records a compensating removal.
func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.Rollbacks.Inc()
}

// Snapshot records an ingested snapshot of n shapes.
func (m *Metrics) Snapshot(n int) {
	if m == nil {
		return
	}
	m.Snapshots.Inc()
	m.SnapshotSize.Set(float64(n))
}

// ThrottleSent records a throttled send.
func (m *Metrics) ThrottleSent(name string) {
	if m == nil {
		return
	}
	m.ThrottleSends.WithLabelValues(name).Inc()
}

// ThrottleCoalesce records a pending payload being replaced.
func (m *Metrics) ThrottleCoalesce(name string) {
	if m == nil {
		return
	}
	m.ThrottleCoalesced.WithLabelValues(name).Inc()
}

// Peers records the size of the presence map.
func (m *Metrics) Peers(n int) {
	if m == nil {
		return
	}
	m.PresencePeers.Set(float64(n))
}

// PendingExpiry records a pending shape cleared by its timer.
func (m *Metrics) PendingExpiry() {
	if m == nil {
		return
	}
	m.PendingExpired.Inc()
}

// ConnOpened records a new hub connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.HubConnections.Inc()
}

// ConnClosed records a hub connection ending.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.HubConnections.Dec()
}

// Message records an inbound hub frame.
func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.HubMessages.WithLabelValues(kind).Inc()
}

// Cleanup records a disconnect-driven presence removal.
func (m *Metrics) Cleanup() {
	if m == nil {
		return
	}
	m.DisconnectCleanups.Inc()
}
