package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Write("create", nil)
	m.Rollback()
	m.Snapshot(3)
	m.ThrottleSent("cursor")
	m.ThrottleCoalesce("cursor")
	m.Peers(2)
	m.PendingExpiry()
	m.ConnOpened()
	m.ConnClosed()
	m.Message("ack")
	m.Cleanup()
}

func TestWriteLabelsByResult(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Write("create", nil)
	m.Write("create", nil)
	m.Write("create", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Writes.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Writes.WithLabelValues("create", "error")))
}

func TestGaugesTrackLatestValue(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Snapshot(7)
	m.Snapshot(4)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Snapshots))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SnapshotSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HubConnections))
}
