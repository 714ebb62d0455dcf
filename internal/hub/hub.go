// Package hub republishes worker events to every connected observer. Stream
// subscribers get a bounded per-observer queue and are dropped when they
// stop draining it; websocket connections share one broadcast with a write
// deadline. Neither path ever blocks the event producer for long.
package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"facefinder/internal/logger"
	"facefinder/internal/model"
)

const writeDeadline = 5 * time.Second

// Subscriber is one stream observer. Its channel is closed by the hub on
// unsubscribe or when the observer falls too far behind. Sends and the
// close both happen under the subscriber's own mutex, so a disconnect
// racing a parked delivery can never hit a closed channel.
type Subscriber struct {
	ID string

	mu     sync.Mutex
	closed bool
	ch     chan model.Event
}

// Events is the subscriber's receive side.
func (s *Subscriber) Events() <-chan model.Event {
	return s.ch
}

// send delivers one event, waiting up to timeout on a full queue. Reports
// false only when the observer is live and still not draining.
func (s *Subscriber) send(ev model.Event, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type Hub struct {
	logger         *logger.Logger
	queueSize      int
	enqueueTimeout time.Duration

	mu      sync.Mutex
	subs    map[string]*Subscriber
	conns   map[*websocket.Conn]*sync.Mutex
	dropped uint64
}

func New(queueSize int, enqueueTimeout time.Duration, log *logger.Logger) *Hub {
	return &Hub{
		logger:         log,
		queueSize:      queueSize,
		enqueueTimeout: enqueueTimeout,
		subs:           make(map[string]*Subscriber),
		conns:          make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Subscribe registers a new stream observer.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID: uuid.NewString(),
		ch: make(chan model.Event, h.queueSize),
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	h.logger.Info("Observer %s connected (%d active)", sub.ID, h.SubscriberCount())
	return sub
}

// Unsubscribe removes a stream observer and closes its channel. Safe to
// call after the hub already dropped the observer.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		sub.close()
		h.logger.Info("Observer %s disconnected", id)
	}
}

// AddConn registers a websocket connection for the shared broadcast.
func (h *Hub) AddConn(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

// WriteConn writes one JSON message to a registered connection under its
// write lock, so broadcasts and per-connection replies never interleave.
func (h *Hub) WriteConn(conn *websocket.Conn, v interface{}) error {
	h.mu.Lock()
	wmu, ok := h.conns[conn]
	h.mu.Unlock()
	if !ok {
		return websocket.ErrCloseSent
	}
	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(v)
}

// RemoveConn unregisters a websocket connection. The caller owns closing it.
func (h *Hub) RemoveConn(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// Publish fans one event out to every observer. A stream observer whose
// queue stays full past the enqueue timeout is removed from the registry;
// delivery is at-most-once by policy. Websocket failures likewise evict the
// connection.
func (h *Hub) Publish(ev model.Event) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.send(ev, h.enqueueTimeout) {
			atomic.AddUint64(&h.dropped, 1)
			h.logger.Warning("Observer %s not draining, dropping it", sub.ID)
			h.Unsubscribe(sub.ID)
		}
	}

	msg := map[string]interface{}{
		"type":  "face_detection_event",
		"event": ev,
	}
	for _, conn := range conns {
		if err := h.WriteConn(conn, msg); err != nil {
			h.logger.Warning("Websocket write failed, removing connection: %v", err)
			h.RemoveConn(conn)
			conn.Close()
		}
	}
}

// SubscriberCount reports the number of live stream observers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped reports how many observers were evicted for backpressure.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Close evicts every observer and connection, ending their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	conns := h.conns
	h.subs = make(map[string]*Subscriber)
	h.conns = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	for conn := range conns {
		conn.Close()
	}
}
