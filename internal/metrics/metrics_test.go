package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncIngestion("created")
	m.IncIngestion("created")
	m.IncOutreach("HIGH", "sent")
	m.ObserveBatch("ok", 4, time.Second)
	m.ObserveBatch("locked", 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestions.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outreach.WithLabelValues("HIGH", "sent")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.batchSelected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchRuns.WithLabelValues("locked")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncIngestion("created")
		m.IncOutreach("LOW", "failed")
		m.IncDiscount("LOW", "issued")
		m.IncSalesLead("published")
		m.ObserveBatch("ok", 1, time.Second)
	})
}
