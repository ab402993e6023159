package httpapi

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/alertrun/internal/alert"
	"github.com/sawpanic/alertrun/internal/broadcast"
	"github.com/sawpanic/alertrun/internal/density"
	"github.com/sawpanic/alertrun/internal/leaf"
)

func newWSDensityTestServer(t *testing.T, h *Handlers) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	router.HandleFunc("/ws/densities", h.WSDensities)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestWSDensitiesSendsSnapshotOnConnect(t *testing.T) {
	tracker := density.NewTracker()
	tracker.Process("BTCUSDT", density.SideLong, 100000, 200000, 100000)

	hub := broadcast.NewDensityHub(tracker, nil)
	h := NewHandlers(alert.NewRegistry(leaf.NewManager()), broadcast.NewUserHub(nil), hub)
	srv := newWSDensityTestServer(t, h)

	conn := dialWS(t, srv, "/ws/densities")

	var env broadcast.DensityEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, "snapshot", env.Type)
	require.Len(t, env.Snapshot, 1)
	require.Equal(t, "BTCUSDT", env.Snapshot[0].Symbol)
}

func TestWSDensitiesRespondsToPing(t *testing.T) {
	hub := broadcast.NewDensityHub(density.NewTracker(), nil)
	h := NewHandlers(alert.NewRegistry(leaf.NewManager()), broadcast.NewUserHub(nil), hub)
	srv := newWSDensityTestServer(t, h)

	conn := dialWS(t, srv, "/ws/densities")
	var env broadcast.DensityEnvelope
	require.NoError(t, conn.ReadJSON(&env))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var pong PongEvent
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, "pong", pong.Type)
}
