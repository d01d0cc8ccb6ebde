package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ip150-bridge/backend/internal/panel"
	"github.com/ip150-bridge/backend/internal/state"
)

func newTestServer(t *testing.T, store *state.Store, authToken string) *httptest.Server {
	t.Helper()
	b := NewBroadcaster(store, zerolog.Nop(), 5*time.Millisecond, time.Hour)
	s := NewServer(store, b, zerolog.Nop(), authToken)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func seededStore() *state.Store {
	store := state.NewStore()
	store.ApplyDelta(panel.Delta{
		Zones: []panel.ZoneEntry{{Index: 1, State: panel.ZoneOpen}},
		Areas: []panel.AreaEntry{{Index: 1, State: panel.AreaArmed}},
	})
	return store
}

func TestWebsocketReceivesSnapshotOnConnect(t *testing.T) {
	ts := newTestServer(t, seededStore(), "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    MessageType `json:"type"`
		Payload struct {
			Status panel.Snapshot `json:"status"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MsgSnapshot, msg.Type)
	require.Len(t, msg.Payload.Status.Zones, 1)
	assert.Equal(t, panel.ZoneOpen, msg.Payload.Status.Zones[0].State)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, seededStore(), "")

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap panel.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Areas, 1)
	assert.Equal(t, panel.AreaArmed, snap.Areas[0].State)
}

func TestAuthToken(t *testing.T) {
	ts := newTestServer(t, seededStore(), "sekrit")

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/status?token=sekrit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Websocket handshake rejects a bad token too.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=wrong"
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestCheckOriginRejectsForeignHost(t *testing.T) {
	ts := newTestServer(t, seededStore(), "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
