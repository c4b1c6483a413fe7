package messaging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/tractstack-leads/internal/infrastructure/observability/logging"
)

func TestDataLayerHubPublishesToVisitorPages(t *testing.T) {
	hub := NewDataLayerHub(nil, time.Second, 4, logging.NewDiscardLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("visitorId"))
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?visitorId=vis_1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ListenerCount("vis_1") == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, hub.Publish("vis_other", []byte(`{}`)))
	assert.Equal(t, 1, hub.Publish("vis_1", []byte(`{"event":"generate_lead"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"generate_lead"}`, string(msg))

	conn.Close()
	require.Eventually(t, func() bool { return hub.ListenerCount("vis_1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDataLayerHubDropsWhenBufferFull(t *testing.T) {
	hub := NewDataLayerHub(nil, time.Second, 1, nil)
	client := &DataLayerClient{VisitorID: "vis_1", Send: make(chan []byte, 1)}
	hub.Register(client)

	assert.Equal(t, 1, hub.Publish("vis_1", []byte("a")))
	assert.Equal(t, 0, hub.Publish("vis_1", []byte("b")))

	hub.Unregister(client)
	hub.Unregister(client)
	assert.Equal(t, 0, hub.ListenerCount("vis_1"))
}
