package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/job"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type subscriber struct {
	box  *Mailbox[job.Result]
	conn *websocket.Conn
}

// Hub fans notifications out to websocket clients. Each client has a private
// one-slot mailbox, so a slow client only ever receives the newest result.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	log    zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[uint64]*subscriber),
		log:  log.With().Str("component", "notify-hub").Logger(),
	}
}

// Publish overwrites every subscriber's mailbox with r.
func (h *Hub) Publish(r job.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		s.box.Put(r)
	}
}

// Subscribe registers a mailbox that receives every later Publish.
func (h *Hub) Subscribe() (uint64, *Mailbox[job.Result]) {
	return h.add(nil)
}

func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add(conn *websocket.Conn) (uint64, *Mailbox[job.Result]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	box := NewMailbox[job.Result]()
	h.subs[h.nextID] = &subscriber{box: box, conn: conn}
	return h.nextID, box
}

// ServeHTTP upgrades the request and streams notifications until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id, box := h.add(conn)
	h.log.Debug().Uint64("client_id", id).Msg("websocket client connected")

	done := make(chan struct{})
	go h.writePump(conn, box, done)
	h.readPump(conn)
	close(done)

	h.Unsubscribe(id)
	_ = conn.Close()
	h.log.Debug().Uint64("client_id", id).Msg("websocket client disconnected")
}

func (h *Hub) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, box *Mailbox[job.Result], done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-box.Ready():
			r, ok := box.TryTake()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(r); err != nil {
				h.log.Warn().Err(err).Msg("websocket write failed")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// Serve blocks until ctx ends, then closes every websocket connection.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		if s.conn != nil {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			_ = s.conn.Close()
		}
		delete(h.subs, id)
	}
	return ctx.Err()
}

func (h *Hub) String() string { return "notify-hub" }
