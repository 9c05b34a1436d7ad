package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// wsPair upgrades one server-side connection and dials it from a client.
func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upgraded := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgraded <- conn
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-upgraded
	t.Cleanup(func() { server.Close() })
	return server, client
}

func TestReadLoop_ExitsWhenHandlerStopsConsuming(t *testing.T) {
	serverConn, clientConn := wsPair(t)
	srv := NewWebSocketServer(NewRegistry(), nil, DefaultServerOptions(), zaptest.NewLogger(t).Sugar())

	// No consumer on the unbuffered channel, so the first frame parks the
	// loop on the send exactly as a full buffer would.
	messages := make(chan *Envelope)
	errs := make(chan error, 1)
	done := make(chan struct{})

	finished := make(chan struct{})
	go func() {
		srv.readLoop(serverConn, messages, errs, done)
		close(finished)
	}()

	require.NoError(t, clientConn.WriteJSON(&Envelope{Type: TypeOffer}))
	close(done)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop kept running after the handler went away")
	}
}

func TestReadLoop_ForwardsFramesAndReadErrors(t *testing.T) {
	serverConn, clientConn := wsPair(t)
	srv := NewWebSocketServer(NewRegistry(), nil, DefaultServerOptions(), zaptest.NewLogger(t).Sugar())

	messages := make(chan *Envelope, 1)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	finished := make(chan struct{})
	go func() {
		srv.readLoop(serverConn, messages, errs, done)
		close(finished)
	}()

	require.NoError(t, clientConn.WriteJSON(&Envelope{Type: TypeOffer, UserID: "alice"}))

	select {
	case env := <-messages:
		require.Equal(t, TypeOffer, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the handler channel")
	}

	clientConn.Close()

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read error never surfaced")
	}
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop kept running after the socket closed")
	}
}
