package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionboard/internal/metrics"
)

func TestCountersRegisterAndIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ConstraintViolation("teamwork")
	m.ConstraintViolation("teamwork")
	m.ValidationFailure("organization")
	m.RemoteSyncError("favorite.cascade")
	m.Commit("ok")
	m.AssignmentConflict()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConstraintViolations.WithLabelValues("teamwork")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationFailures.WithLabelValues("organization")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteSyncErrors.WithLabelValues("favorite.cascade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssignmentConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ConstraintViolation("x")
		m.RemoteSyncError("y")
		m.SessionClosed()
	})
}
