package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// feedServer upgrades the connection and drains client messages until close.
func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestPingAndSubscribeShareOneWriter(t *testing.T) {
	srv := feedServer(t)
	defer srv.Close()

	ws := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	ws.pingEvery = time.Millisecond
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Close()

	// Interleave subscribe writes with the ping loop. The connection permits
	// one writer at a time and panics on a second, so completing the loop is
	// the assertion.
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, ws.Subscribe(context.Background(), []string{"a", "b"}))
	}
}
