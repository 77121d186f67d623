package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestServer starts a WebSocket server running handle for each client and
// returns its ws:// URL.
func newTestServer(t *testing.T, handle func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, "ws://127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestConnDeliversInOrder(t *testing.T) {
	const n = 200
	url := newTestServer(t, func(ws *websocket.Conn) {
		for i := 0; i < n; i++ {
			ws.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("msg-%d", i)))
		}
		ws.WriteMessage(websocket.BinaryMessage, []byte{0x01})
		ws.WriteMessage(websocket.TextMessage, []byte("last"))
		ws.ReadMessage() // wait for the client to go away
	})

	conn, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < n; i++ {
		select {
		case got := <-conn.Incoming():
			require.Equal(t, fmt.Sprintf("msg-%d", i), got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	select {
	case got := <-conn.Incoming():
		assert.Equal(t, "last", got, "binary frames must be skipped")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the last message")
	}
}

func TestConnSend(t *testing.T) {
	received := make(chan string, 2)
	url := newTestServer(t, func(ws *websocket.Conn) {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	conn, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send("HELLO gstreamer"))
	require.NoError(t, conn.Send("SESSION browser1"))

	assert.Equal(t, "HELLO gstreamer", <-received)
	assert.Equal(t, "SESSION browser1", <-received)
}

func TestConnRemoteClose(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte("bye"))
	})

	conn, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed")
	}
	assert.ErrorIs(t, conn.Err(), ErrTransport)
	assert.Equal(t, "bye", <-conn.Incoming(), "frames read before the close stay queued")
}

func TestConnLocalClose(t *testing.T) {
	url := newTestServer(t, func(ws *websocket.Conn) {
		ws.ReadMessage()
	})

	conn, err := Connect(context.Background(), url)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "Close must be idempotent")

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done was not closed")
	}
	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send("late"), ErrTransport)
}
