package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neurondb/NeuronGateway/internal/frames"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs fn with a server-side transport and returns the dialed client conn
func startServer(t *testing.T, fn func(ws *WebSocket)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(NewWebSocket(conn, Options{WriteWait: time.Second, PongWait: 5 * time.Second}))
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWebSocket_SendAndReceive(t *testing.T) {
	received := make(chan []byte, 1)
	client := startServer(t, func(ws *WebSocket) {
		defer ws.Close()
		assert.NoError(t, ws.Send(context.Background(), frames.NewTyping(time.Now(), true)))
		data, err := ws.Receive()
		if err == nil {
			received <- data
		}
	})

	var out map[string]interface{}
	require.NoError(t, client.ReadJSON(&out))
	assert.Equal(t, "typing_indicator", out["type"])
	assert.Equal(t, true, out["is_typing"])

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"message":"hi"}`)))
	select {
	case data := <-received:
		assert.JSONEq(t, `{"message":"hi"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestWebSocket_CloseSendsStatus(t *testing.T) {
	checked := make(chan struct{})
	client := startServer(t, func(ws *WebSocket) {
		defer close(checked)
		ws.SetCloseStatus(websocket.ClosePolicyViolation, "identity_rejected")
		assert.NoError(t, ws.Close())
		assert.NoError(t, ws.Close(), "second close is a no-op")
		assert.ErrorIs(t, ws.Send(context.Background(), frames.NewTyping(time.Now(), false)), ErrClosed)
	})

	_, _, err := client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.True(t, IsPeerClose(err))
	<-checked
}

func TestWebSocket_ReceiveReportsPeerClose(t *testing.T) {
	result := make(chan error, 1)
	client := startServer(t, func(ws *WebSocket) {
		defer ws.Close()
		_, err := ws.Receive()
		result <- err
	})

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")))

	select {
	case err := <-result:
		assert.True(t, IsPeerClose(err))
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return")
	}
}

func TestWebSocket_BinaryMessageIsInvalidFormat(t *testing.T) {
	type result struct {
		data []byte
		err  error
	}
	results := make(chan result, 2)
	client := startServer(t, func(ws *WebSocket) {
		defer ws.Close()
		for i := 0; i < 2; i++ {
			data, err := ws.Receive()
			results <- result{data, err}
		}
	})

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte(`{"message":"hi"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"message":"hi"}`)))

	for i, wantErr := range []bool{true, false} {
		select {
		case r := <-results:
			if wantErr {
				assert.ErrorIs(t, r.err, frames.ErrInvalidFormat)
				assert.False(t, IsPeerClose(r.err))
			} else {
				require.NoError(t, r.err)
				assert.JSONEq(t, `{"message":"hi"}`, string(r.data))
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("receive %d did not return", i)
		}
	}
}

func TestWebSocket_SendRespectsCancelledContext(t *testing.T) {
	done := make(chan error, 1)
	client := startServer(t, func(ws *WebSocket) {
		defer ws.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		done <- ws.Send(ctx, frames.NewBroadcast(time.Now(), "m"))
	})
	t.Cleanup(func() { _ = client.Close() })

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
	}
}
