package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.SetConnected(true)
	m.Reconnect()
	m.Heartbeat()
	m.MessageIn("print")
	m.MessageOut("print_result")
	m.ProtocolError("oversize")
	m.Command("print", true, time.Second)
	m.PrintJob(false)
	m.SetPrinters(3)
	m.SetQueueDepth(1)
	assert.Nil(t, m.Registry())
}

func TestCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetConnected(true)
	m.Reconnect()
	m.Reconnect()
	m.Command("print", true, 200*time.Millisecond)
	m.Command("print", false, time.Second)
	m.PrintJob(true)
	m.SetPrinters(4)
	m.MessageIn("heartbeat_ack")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("print", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("print", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.printers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("in", "heartbeat_ack")))
}

func TestServeListener(t *testing.T) {
	t.Parallel()

	m := New()
	m.Heartbeat()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "printagent_heartbeats_total 1"), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
