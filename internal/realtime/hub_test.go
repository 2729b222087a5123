package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.HandleWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsBusEvents(t *testing.T) {
	bus := events.NewBus(slog.Default())
	t.Cleanup(func() { bus.Close() })

	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx, bus)

	conn := dialTestHub(t, h)

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.Event{Type: events.TypeConnected, Data: map[string]string{"public_key": "GTEST"}})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, events.TypeConnected, msg.Event.Type)
	assert.Equal(t, "GTEST", msg.Event.Data["public_key"])
}

func TestHub_BridgeRoundTrip(t *testing.T) {
	h := NewHub(slog.Default())
	conn := dialTestHub(t, h)

	// Play the browser: answer the first bridge request.
	go func() {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg message
		if json.Unmarshal(raw, &msg) != nil || msg.Request == nil {
			return
		}
		reply := message{
			Type: "bridge_response",
			Response: &wallet.BridgeResponse{
				ID:     msg.Request.ID,
				Result: json.RawMessage(`{"public_key":"GBROWSER"}`),
			},
		}
		out, _ := json.Marshal(reply)
		conn.WriteMessage(websocket.TextMessage, out)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := h.Request(ctx, wallet.BridgeRequest{
		Wallet: wallet.KindFreighter,
		Method: "request_access",
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Result), "GBROWSER")
}

func TestHub_RequestWithoutBrowserFails(t *testing.T) {
	h := NewHub(slog.Default())

	_, err := h.Request(context.Background(), wallet.BridgeRequest{Method: "request_access"})
	assert.ErrorIs(t, err, wallet.ErrNotInstalled)
}

func TestHub_RequestHonorsContext(t *testing.T) {
	h := NewHub(slog.Default())
	dialTestHub(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := h.Request(ctx, wallet.BridgeRequest{Method: "sign_payload"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_ServesAsWalletRequester(t *testing.T) {
	var _ wallet.Requester = NewHub(slog.Default())
}

func TestHandleWS_RejectsPlainHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(slog.Default())
	r := gin.New()
	r.GET("/ws", h.HandleWS)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
