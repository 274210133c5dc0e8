package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialStream serves the API over a real listener and opens a websocket
// against it. The caller must invoke the returned cleanup.
func dialStream(t *testing.T, a *testAPI) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(a.server)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.viewerToken)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		srv.Close()
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("websocket handshake failed (status %d): %v", status, err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) StreamEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt StreamEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func eventEntity(t *testing.T, evt StreamEvent) string {
	t.Helper()
	data, ok := evt.Data.(map[string]interface{})
	require.True(t, ok, "event data is %T", evt.Data)
	id, _ := data["entity_id"].(string)
	return id
}

// roundTripPing confirms the server processed everything sent before it,
// since actions are handled in order on the read loop.
func roundTripPing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(StreamAction{Action: "ping"}))
	evt := readEvent(t, conn)
	require.Equal(t, "pong", evt.Type)
}

func TestStreamDeliversEvents(t *testing.T) {
	a := newTestAPI(t)
	created := a.registerEntity(t, "nas")

	conn, cleanup := dialStream(t, a)
	defer cleanup()

	welcome := readEvent(t, conn)
	assert.Equal(t, "connected", welcome.Type)
	assert.False(t, welcome.Timestamp.IsZero())

	rec := a.ingestAsAgent(t, created.APIKey, t0, 42)
	require.Equal(t, http.StatusAccepted, rec.Code)

	metric := readEvent(t, conn)
	assert.Equal(t, "metric", metric.Type)
	assert.Equal(t, created.Entity.ID, eventEntity(t, metric))

	status := readEvent(t, conn)
	assert.Equal(t, "entity_status", status.Type)
	assert.Equal(t, created.Entity.ID, eventEntity(t, status))
}

func TestStreamAlertEvents(t *testing.T) {
	a := newTestAPI(t)
	created := a.registerEntity(t, "nas")

	rec := a.do(t, http.MethodPost, "/api/v1/rules", a.operatorToken, validRuleRequest())
	require.Equal(t, http.StatusCreated, rec.Code)

	conn, cleanup := dialStream(t, a)
	defer cleanup()
	require.Equal(t, "connected", readEvent(t, conn).Type)

	body := `{"timestamp":"2025-11-03T10:00:00Z","readings":[{"type":"memory","data":{"percent":91,"total":1024,"used":931}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/metrics/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", created.APIKey)
	res := httptest.NewRecorder()
	a.server.ServeHTTP(res, req)
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())

	metric := readEvent(t, conn)
	require.Equal(t, "metric", metric.Type)

	alertEvt := readEvent(t, conn)
	require.Equal(t, "alert", alertEvt.Type)
	data, ok := alertEvt.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "triggered", data["action"])
}

func TestStreamSubscribeFilters(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")
	router := a.registerEntity(t, "router")

	conn, cleanup := dialStream(t, a)
	defer cleanup()
	require.Equal(t, "connected", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(StreamAction{Action: "subscribe", EntityID: router.Entity.ID}))
	roundTripPing(t, conn)

	// Events for the unsubscribed entity are dropped; the next delivery is
	// the subscribed entity's metric.
	rec := a.ingestAsAgent(t, nas.APIKey, t0, 10)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = a.ingestAsAgent(t, router.APIKey, t0, 20)
	require.Equal(t, http.StatusAccepted, rec.Code)

	metric := readEvent(t, conn)
	assert.Equal(t, "metric", metric.Type)
	assert.Equal(t, router.Entity.ID, eventEntity(t, metric))

	status := readEvent(t, conn)
	assert.Equal(t, "entity_status", status.Type)
	assert.Equal(t, router.Entity.ID, eventEntity(t, status))
}

func TestStreamUnsubscribeRestoresFirehose(t *testing.T) {
	a := newTestAPI(t)
	nas := a.registerEntity(t, "nas")
	router := a.registerEntity(t, "router")

	conn, cleanup := dialStream(t, a)
	defer cleanup()
	require.Equal(t, "connected", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(StreamAction{Action: "subscribe", EntityID: router.Entity.ID}))
	require.NoError(t, conn.WriteJSON(StreamAction{Action: "unsubscribe", EntityID: router.Entity.ID}))
	roundTripPing(t, conn)

	// With the filter empty again every entity's events flow.
	rec := a.ingestAsAgent(t, nas.APIKey, t0, 10)
	require.Equal(t, http.StatusAccepted, rec.Code)

	metric := readEvent(t, conn)
	assert.Equal(t, "metric", metric.Type)
	assert.Equal(t, nas.Entity.ID, eventEntity(t, metric))
}

func TestStreamRejectsBadActions(t *testing.T) {
	a := newTestAPI(t)

	conn, cleanup := dialStream(t, a)
	defer cleanup()
	require.Equal(t, "connected", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	evt := readEvent(t, conn)
	assert.Equal(t, "error", evt.Type)
	data, _ := evt.Data.(map[string]interface{})
	assert.Contains(t, data["message"], "malformed")

	require.NoError(t, conn.WriteJSON(StreamAction{Action: "dance"}))
	evt = readEvent(t, conn)
	assert.Equal(t, "error", evt.Type)
	data, _ = evt.Data.(map[string]interface{})
	assert.Contains(t, data["message"], "unknown action")
}

func TestStreamRequiresAuth(t *testing.T) {
	a := newTestAPI(t)

	srv := httptest.NewServer(a.server)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
