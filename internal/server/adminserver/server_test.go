package adminserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yxlane/redstore-go/internal/telemetry/metric"
)

func startTestServer(t *testing.T, metrics *metric.Registry) *Server {
	t.Helper()

	srv := New("127.0.0.1:0", metrics, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func get(t *testing.T, srv *Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get("http://" + srv.Addr().String() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_Healthz(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestServer_Version(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, body := get(t, srv, "/version")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "go_version")
}

func TestServer_Metrics(t *testing.T) {
	m := metric.NewRegistry()
	m.ConnectionsTotal.Inc()
	srv := startTestServer(t, m)

	resp, body := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, "redstore_connections_total"))
}

func TestServer_MetricsRouteAbsentWithoutRegistry(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, _ := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_UnknownRoute(t *testing.T) {
	srv := startTestServer(t, nil)

	resp, _ := get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
