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

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(CellsTotal.WithLabelValues("test", "succeeded"))
	CellsTotal.WithLabelValues("test", "succeeded").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CellsTotal.WithLabelValues("test", "succeeded")))

	assert.Equal(t, "ok", Result(true))
	assert.Equal(t, "error", Result(false))
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, strings.Contains(body, "interop_cells_total") || strings.Contains(body, "go_goroutines"))

	cancel()
	assert.NoError(t, <-done)
}
