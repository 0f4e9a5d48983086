package http

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ProgressEvent is one progress update pushed to websocket subscribers.
type ProgressEvent struct {
	RunID     string  `json:"run_id"`
	Portfolio string  `json:"portfolio"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Done      bool    `json:"done"`
}

// ProgressHub fans progress events out to connected websocket clients.
// Slow clients are dropped rather than allowed to stall the feed.
type ProgressHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan ProgressEvent

	upgrader websocket.Upgrader
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		clients: make(map[*websocket.Conn]chan ProgressEvent),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Broadcast delivers an event to every subscriber without blocking.
func (h *ProgressHub) Broadcast(ev ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Dropping slow progress subscriber")
			go h.drop(conn)
		}
	}
}

// SubscriberCount reports the number of connected clients.
func (h *ProgressHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *ProgressHub) add(conn *websocket.Conn) chan ProgressEvent {
	ch := make(chan ProgressEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// handleWS upgrades the request and streams progress events until the client
// disconnects.
func (h *ProgressHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	ch := h.add(conn)
	defer h.drop(conn)

	// drain client frames so pings and closes are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
