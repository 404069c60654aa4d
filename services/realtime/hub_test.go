package realtimesvc_test

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darasahq/darasa/core"
	logsvc "github.com/darasahq/darasa/services/logger"
	realtimesvc "github.com/darasahq/darasa/services/realtime"
)

var upgrader = websocket.Upgrader{}

func newHub(t *testing.T) *realtimesvc.Hub {
	t.Helper()
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	hub := realtimesvc.NewHub(logger)
	t.Cleanup(hub.Close)
	return hub
}

// dial connects a websocket client to hub as userID and returns the
// client side of the connection.
func dial(t *testing.T, hub *realtimesvc.Hub, userID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() failed: %v", err)
			return
		}
		hub.Add(userID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, func() bool { return hub.Connected(userID) }, "connection registered")
	return conn
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestHub_push(t *testing.T) {
	hub := newHub(t)
	conn := dial(t, hub, "u1")

	payload := map[string]string{"event": "message", "preview": "salut"}
	hub.Push("u1", payload)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() failed: %v", err)
	}
	var got map[string]string
	if err = json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if got["event"] != "message" || got["preview"] != "salut" {
		t.Errorf("got = %v, want %v", got, payload)
	}
}

func TestHub_fanOutToAllConnections(t *testing.T) {
	hub := newHub(t)
	conn1 := dial(t, hub, "u1")
	conn2 := dial(t, hub, "u1")

	hub.Push("u1", map[string]string{"event": "message"})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Errorf("connection %d: ReadMessage() failed: %v", i+1, err)
		}
	}
}

func TestHub_pushToUnknownUserIsNoop(t *testing.T) {
	hub := newHub(t)
	hub.Push("nobody", map[string]string{"event": "message"})

	if hub.Connected("nobody") {
		t.Error("Connected() = true, want false")
	}
}

func TestHub_disconnectUnregisters(t *testing.T) {
	hub := newHub(t)
	conn := dial(t, hub, "u1")

	_ = conn.Close()
	waitFor(t, func() bool { return !hub.Connected("u1") }, "connection removed")
}

func TestHub_closeDropsClients(t *testing.T) {
	hub := newHub(t)
	conn := dial(t, hub, "u1")

	hub.Close()
	if hub.Connected("u1") {
		t.Error("Connected() = true after Close()")
	}

	// the server side closed the connection
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	waitFor(t, func() bool {
		_, _, err := conn.ReadMessage()
		return err != nil
	}, "peer close")
}
