package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/logging"
)

func dialHub(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d clients, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ReplaysLatestStatus(t *testing.T) {
	hub := NewHub(logging.Discard())
	defer hub.Close()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	hub.Publish(MessageStatus, map[string]any{"state": "loading"})
	hub.Publish(MessageStatus, map[string]any{"state": "ready"})

	conn := dialHub(t, ts)
	msg := readMessage(t, conn)

	if msg.Type != MessageStatus {
		t.Fatalf("got message type %q, want %q", msg.Type, MessageStatus)
	}
	data, _ := msg.Data.(map[string]any)
	if data["state"] != "ready" {
		t.Errorf("got replayed state %v, want ready", data["state"])
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(logging.Discard())
	defer hub.Close()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	first := dialHub(t, ts)
	second := dialHub(t, ts)
	waitForClients(t, hub, 2)

	hub.Publish(MessageDetection, map[string]any{"label": "Hello"})

	for i, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		if msg.Type != MessageDetection {
			t.Errorf("client %d: got type %q, want %q", i, msg.Type, MessageDetection)
		}
		data, _ := msg.Data.(map[string]any)
		if data["label"] != "Hello" {
			t.Errorf("client %d: got label %v, want Hello", i, data["label"])
		}
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(logging.Discard())
	defer hub.Close()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn := dialHub(t, ts)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub := NewHub(logging.Discard())
	hub.Close()
	hub.Close()

	// Must not block or panic
	hub.Publish(MessageStatus, "ready")
}
