package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NoError(t, c.Register(reg))

	c.ObserveRequest("GET_DATA", "OK", 2*time.Millisecond)
	c.ObserveRequest("GET_DATA", "OK", 3*time.Millisecond)
	c.ObserveRequest("CREATE", "NODE_EXISTS", time.Millisecond)
	c.SetState(2)
	c.ConnectAttempt("zk1:2181", "failed")
	c.WatchEvent("NODE_DELETED")
	c.BytesIn(10)
	c.BytesOut(7)
	c.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET_DATA", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("CREATE", "NODE_EXISTS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.state))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.pending))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.bytesIn))

	expected := `
# HELP zkclient_connect_attempts_total Connection attempts, by server and outcome.
# TYPE zkclient_connect_attempts_total counter
zkclient_connect_attempts_total{outcome="failed",server="zk1:2181"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "zkclient_connect_attempts_total"))

	// Registering twice on the same registry fails.
	assert.Error(t, c.Register(reg))
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRequest("PING", "OK", time.Millisecond)
		c.SetState(1)
		c.ConnectAttempt("x", "ok")
		c.WatchEvent("NODE_CREATED")
		c.ProtocolError("xid")
		c.SetPending(0)
		c.BytesIn(1)
		c.BytesOut(1)
	})
}
