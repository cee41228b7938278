package background

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/morph/idgen"
	"github.com/hazyhaar/morph/kit"
	"github.com/hazyhaar/morph/message"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	subscriberBuffer = 32
	writeWait        = 5 * time.Second
)

// Frame is one server-to-client websocket frame. Events carry a
// broadcast message; responses answer a client request.
type Frame struct {
	Type    string           `json:"type"`
	Event   *message.Message `json:"event,omitempty"`
	Request message.Type     `json:"request,omitempty"`
	Data    any              `json:"data,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Hub fans messages out to websocket subscribers. Slow subscribers lose
// frames rather than stall the broadcaster.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]chan Frame
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[string]chan Frame)}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues msg for every subscriber.
func (h *Hub) Broadcast(msg message.Message) {
	frame := Frame{Type: "event", Event: &msg}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			h.logger.Debug("background: subscriber lagging, frame dropped", "subscriber", id)
		}
	}
}

func (h *Hub) subscribe() (string, chan Frame) {
	id := idgen.Subscriber()
	ch := make(chan Frame, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// ServeWS upgrades the request to a websocket subscriber. The client
// receives every broadcast event and may send runtime messages, each of
// which is answered with a response frame.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("background: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, out := s.hub.subscribe()
	defer s.hub.unsubscribe(id)
	s.logger.Info("background: subscriber connected", "subscriber", id)

	done := make(chan struct{})
	go s.wsReadLoop(r, conn, out, done)

	for {
		select {
		case <-done:
			s.logger.Info("background: subscriber gone", "subscriber", id)
			return
		case frame := <-out:
			b, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func (s *Service) wsReadLoop(r *http.Request, conn *websocket.Conn, out chan<- Frame, done chan<- struct{}) {
	defer close(done)
	ctx := kit.WithTransport(r.Context(), "ws")
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("background: websocket read error", "error", err)
			}
			return
		}

		frame := Frame{Type: "response"}
		msg, err := message.Decode(b)
		if err != nil {
			frame.Error = err.Error()
		} else {
			frame.Request = msg.Type
			data, err := s.HandleMessage(ctx, msg)
			if err != nil {
				frame.Error = err.Error()
			} else {
				frame.Data = data
			}
		}
		// Responses are never dropped.
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}
