// Package stream pushes editor, depth and export events to browsers over
// Server-Sent Events.
package stream

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxConcurrentConnections bounds open SSE connections.
	MaxConcurrentConnections = 64
	// ClientChannelBuffer is the per-client queue length.
	ClientChannelBuffer = 64
	// KeepAliveInterval is how often a comment line is sent on idle streams.
	KeepAliveInterval = 30 * time.Second
	// HubBroadcastBuffer is the length of the fan-out queue.
	HubBroadcastBuffer = 256
)

// Message is one SSE event.
type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

type clientChan chan Message

type client struct {
	id           string
	remoteAddr   string
	connected    time.Time
	messagesSent int64
}

// Hub fans messages out to connected clients. Broadcast never blocks: when
// the hub or a client queue is full the message is dropped and counted.
type Hub struct {
	clients           sync.Map // clientChan -> *client
	activeCount       int64
	totalMessages     int64
	droppedBroadcasts int64
	droppedClientMsgs int64
	rejectedConns     int64

	broadcast    chan Message
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	log          *logrus.Entry
}

// NewHub starts a hub's fan-out goroutine.
func NewHub() *Hub {
	h := &Hub{
		broadcast: make(chan Message, HubBroadcastBuffer),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "stream"),
	}
	go h.run()
	return h
}

// Stats returns connection and delivery counters.
func (h *Hub) Stats() map[string]int64 {
	return map[string]int64{
		"active_connections":   atomic.LoadInt64(&h.activeCount),
		"total_messages":       atomic.LoadInt64(&h.totalMessages),
		"max_connections":      MaxConcurrentConnections,
		"dropped_broadcasts":   atomic.LoadInt64(&h.droppedBroadcasts),
		"dropped_client_msgs":  atomic.LoadInt64(&h.droppedClientMsgs),
		"rejected_connections": atomic.LoadInt64(&h.rejectedConns),
	}
}

// Broadcast enqueues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case <-h.shutdown:
		return
	default:
	}
	select {
	case h.broadcast <- msg:
	default:
		atomic.AddInt64(&h.droppedBroadcasts, 1)
	}
}

func (h *Hub) addClient(c clientChan, remoteAddr string) bool {
	if atomic.LoadInt64(&h.activeCount) >= MaxConcurrentConnections {
		atomic.AddInt64(&h.rejectedConns, 1)
		h.log.Warnf("connection limit reached (%d), rejecting %s", MaxConcurrentConnections, remoteAddr)
		return false
	}
	cl := &client{
		id:         fmt.Sprintf("%d-%s", time.Now().UnixNano(), remoteAddr),
		remoteAddr: remoteAddr,
		connected:  time.Now(),
	}
	h.clients.Store(c, cl)
	atomic.AddInt64(&h.activeCount, 1)
	h.log.WithField("client", cl.id).Debug("client connected")
	return true
}

func (h *Hub) removeClient(c clientChan) {
	if v, ok := h.clients.LoadAndDelete(c); ok {
		atomic.AddInt64(&h.activeCount, -1)
		h.log.WithField("client", v.(*client).id).Debug("client disconnected")
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case msg := <-h.broadcast:
			h.clients.Range(func(key, value any) bool {
				c := key.(clientChan)
				cl := value.(*client)
				select {
				case c <- msg:
					atomic.AddInt64(&cl.messagesSent, 1)
					atomic.AddInt64(&h.totalMessages, 1)
				default:
					atomic.AddInt64(&h.droppedClientMsgs, 1)
				}
				return true
			})
		case <-h.shutdown:
			return
		}
	}
}

// Shutdown stops fan-out and ends all open streams.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
		<-h.done
		h.clients.Range(func(key, _ any) bool {
			h.removeClient(key.(clientChan))
			return true
		})
		h.log.Debug("stream hub shut down")
	})
}

// ServeHTTP streams messages to one client until it disconnects or the hub
// shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	select {
	case <-h.shutdown:
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	messages := make(clientChan, ClientChannelBuffer)
	if !h.addClient(messages, r.RemoteAddr) {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.removeClient(messages)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("Content-Encoding")

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	if _, err := io.WriteString(w, formatSSE(Message{Type: "connected", Msg: "{}"})); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.shutdown:
			return
		case msg := <-messages:
			if _, err := io.WriteString(w, formatSSE(msg)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func formatSSE(msg Message) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, msg.Msg)
}
