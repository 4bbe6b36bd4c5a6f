// Package aggregator implements the aggregation consumer: it fans every
// consumed bus message out to connected realtime subscribers and keeps the
// per-source live counters current.
package aggregator

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yashkuceriya/EventIQ-Platform/internal/metrics"
	"github.com/yashkuceriya/EventIQ-Platform/internal/model"
)

// Subscriber receives broadcast frames. Send must never block; it reports
// whether the frame was accepted.
type Subscriber interface {
	Send(f model.Frame) bool
}

// Registry tracks connected subscribers and fans frames out to them.
type Registry interface {
	Register(s Subscriber)
	Unregister(s Subscriber)
	// Broadcast delivers f to every registered subscriber, best effort: a
	// slow subscriber drops the frame rather than delaying the others.
	Broadcast(f model.Frame)
	Len() int
}

const (
	subscriberQueue = 32
	writeTimeout    = 10 * time.Second
)

// Hub is the WebSocket-backed Registry. Each connection gets a bounded send
// queue and its own writer; when the queue is full the frame is dropped for
// that connection only.
type Hub struct {
	mu   sync.Mutex
	subs map[Subscriber]struct{}

	upgrader websocket.Upgrader
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: map[Subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	metrics.Subscribers.Set(float64(len(h.subs)))
}

func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	metrics.Subscribers.Set(float64(len(h.subs)))
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Broadcast(f model.Frame) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if s.Send(f) {
			metrics.FramesBroadcast.Inc()
		} else {
			metrics.FramesDropped.Inc()
		}
	}
}

// ServeWS upgrades the request and attaches the connection as a subscriber
// until either side closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[realtime] upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	s := &wsSubscriber{
		conn: conn,
		send: make(chan model.Frame, subscriberQueue),
		done: make(chan struct{}),
	}
	h.Register(s)
	log.Printf("[realtime] subscriber connected from %s (%d active)", r.RemoteAddr, h.Len())

	go h.writePump(s)
	go h.readPump(s)
}

type wsSubscriber struct {
	conn *websocket.Conn
	send chan model.Frame
	done chan struct{}
	once sync.Once
}

// Send queues f for the connection's writer. It never blocks: a full queue
// means the subscriber is too slow and the frame is dropped.
func (s *wsSubscriber) Send(f model.Frame) bool {
	select {
	case s.send <- f:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *wsSubscriber) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (h *Hub) writePump(s *wsSubscriber) {
	defer func() {
		h.Unregister(s)
		s.close()
	}()
	for {
		select {
		case f := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump discards client messages; its job is to notice the close.
func (h *Hub) readPump(s *wsSubscriber) {
	defer func() {
		h.Unregister(s)
		s.close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
