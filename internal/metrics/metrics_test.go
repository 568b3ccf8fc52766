package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TelegramsReceived.Inc()
	m.Fields.WithLabelValues("unmapped").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TelegramsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fields.WithLabelValues("unmapped")))

	assert.Panics(t, func() { New(reg) }, "duplicate registration must fail loudly")
}

func TestObservePublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePublish(time.Now(), nil)
	m.ObservePublish(time.Now(), errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PublishLatency))
}
