package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhkt275/rms-realtime/internal/crosstab"
	"github.com/thanhkt275/rms-realtime/internal/realtime"
	"github.com/thanhkt275/rms-realtime/pkg/types"
)

func newTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	c := realtime.New(realtime.Config{Broadcaster: crosstab.NewNoop()})
	t.Cleanup(c.Close)
	srv := httptest.NewServer(SetupRoutes(c))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthzDisconnected(t *testing.T) {
	srv := newTestRouter(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 503, resp.StatusCode)

	var info types.ConnectionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, types.StateDisconnected, info.State)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestRouter(t)

	resp, err := srv.Client().Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats types.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.SentCount)
	assert.Zero(t, stats.ReceivedCount)
}

func TestConnectionEndpoint(t *testing.T) {
	srv := newTestRouter(t)

	resp, err := srv.Client().Get(srv.URL + "/connection")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)

	var info types.ConnectionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, types.StateDisconnected, info.State)
	assert.Empty(t, info.LastError)
}
