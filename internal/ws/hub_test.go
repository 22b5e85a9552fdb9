package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func mockClient(hub *Hub, cashierID string) *Client {
	return &Client{
		hub:       hub,
		cashierID: cashierID,
		send:      make(chan []byte, 256),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubRegistrationAndCleanup(t *testing.T) {
	hub := startHub(t)
	client := mockClient(hub, "cashier")

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount("cashier") != 1 {
		t.Fatalf("expected client registered")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if hub.rooms["cashier"] != nil {
		t.Fatalf("expected empty room to be removed")
	}
}

func TestPublishReachesOnlyThatCashier(t *testing.T) {
	hub := startHub(t)
	mine := mockClient(hub, "cashier-a")
	other := mockClient(hub, "cashier-b")
	hub.register <- mine
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	if err := hub.Publish("cashier-a", EventAggregateUpdated, map[string]string{"total": "90.00"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-mine.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if received.Type != EventAggregateUpdated || string(received.Payload) != `{"total":"90.00"}` {
			t.Fatalf("unexpected event %s %s", received.Type, received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("cashier-a did not receive the event")
	}

	select {
	case <-other.send:
		t.Fatal("cashier-b should not receive cashier-a events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServeStreamsEventsOverWebsocket(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, NewUpgrader(""), "cashier", w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount("cashier") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := hub.Publish("cashier", EventInvoiceCreated, map[string]string{"id": "inv-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("read: %v", err)
	}
	if received.Type != EventInvoiceCreated {
		t.Fatalf("unexpected event type %s", received.Type)
	}
}
