package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFormatSSE(t *testing.T) {
	got := formatSSE(Message{Type: "depth-ready", Msg: `{"generation":3}`})
	want := "event: depth-ready\ndata: {\"generation\":3}\n\n"
	if got != want {
		t.Errorf("formatSSE = %q; want %q", got, want)
	}
}

func TestStatsKeys(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()
	stats := h.Stats()
	for _, key := range []string{
		"active_connections", "total_messages", "max_connections",
		"dropped_broadcasts", "dropped_client_msgs", "rejected_connections",
	} {
		if _, ok := stats[key]; !ok {
			t.Errorf("missing stats key %q", key)
		}
	}
	if stats["max_connections"] != MaxConcurrentConnections {
		t.Errorf("max_connections = %d", stats["max_connections"])
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := make(clientChan, ClientChannelBuffer)
	if !h.addClient(c, "127.0.0.1:1") {
		t.Fatal("addClient failed")
	}
	defer h.removeClient(c)

	h.Broadcast(Message{Type: "slot-changed", Msg: "{}"})
	select {
	case msg := <-c:
		if msg.Type != "slot-changed" {
			t.Errorf("type = %q", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestFullClientDropsMessages(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()

	c := make(clientChan) // unbuffered and never read
	h.addClient(c, "127.0.0.1:2")
	defer h.removeClient(c)

	h.Broadcast(Message{Type: "x"})
	deadline := time.Now().Add(2 * time.Second)
	for h.Stats()["dropped_client_msgs"] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a dropped client message")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := NewHub()
	h.Shutdown()
	h.Shutdown()
	h.Broadcast(Message{Type: "late"}) // must not block or panic
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	h := NewHub()
	defer h.Shutdown()
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, _ := reader.ReadString('\n')
	if !strings.HasPrefix(line, "event: connected") {
		t.Fatalf("first line = %q", line)
	}
	reader.ReadString('\n')
	reader.ReadString('\n')

	h.Broadcast(Message{Type: "depth-ready", Msg: "{}"})
	line, err = reader.ReadString('\n')
	if err != nil || line != "event: depth-ready\n" {
		t.Errorf("event line = %q, %v", line, err)
	}
}
