package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"stratvault/core/events"
	"stratvault/core/types"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsSubscriberDepth = 64
)

// EventPayload is the wire form of one vault event on the websocket stream.
type EventPayload struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Broadcaster fans vault events out to websocket subscribers. It satisfies the
// engine's emitter interface; slow subscribers drop events rather than block
// the engine.
type Broadcaster struct {
	mu          sync.Mutex
	sequence    uint64
	subscribers map[chan EventPayload]struct{}
}

// NewBroadcaster constructs an empty event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan EventPayload]struct{})}
}

// Emit implements events.Emitter.
func (b *Broadcaster) Emit(evt events.Event) {
	if b == nil || evt == nil {
		return
	}
	payload := EventPayload{
		Timestamp: time.Now().Unix(),
		Type:      evt.EventType(),
	}
	type attributed interface {
		Event() *types.Event
	}
	if carrier, ok := evt.(attributed); ok {
		if raw := carrier.Event(); raw != nil {
			payload.Attributes = raw.Attributes
		}
	}

	b.mu.Lock()
	b.sequence++
	payload.Sequence = b.sequence
	for sub := range b.subscribers {
		select {
		case sub <- payload:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Broadcaster) subscribe() (chan EventPayload, func()) {
	sub := make(chan EventPayload, wsSubscriberDepth)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
	return sub, cancel
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.broadcaster == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	sub, cancel := s.broadcaster.subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeEventPayload(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func writeEventPayload(ctx context.Context, conn *websocket.Conn, payload EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
