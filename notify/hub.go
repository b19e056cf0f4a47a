// Package notify fans annotation updates out to WebSocket subscribers.
//
// Each connection subscribes to one document. Updates are queued per
// connection and dropped when a slow client's queue is full, so publishing
// never blocks the caller.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 32
	maxMessage   = 1 << 20
)

// ErrClosed is returned by ServeWS after Close.
var ErrClosed = errors.New("notify: hub closed")

// Update is the message pushed to subscribers when an annotation is saved.
type Update struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"session_id"`
	PageIndex  int             `json:"page_index"`
	Payload    json.RawMessage `json:"annotation_data"`
}

type client struct {
	conn  *websocket.Conn
	docID string
	send  chan []byte
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks subscribers per document.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*client]struct{}
	closed bool

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(log zerolog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		subs: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.With().Str("component", "notify").Logger(),
	}
}

// NotifyAnnotationUpdate queues an update for every subscriber of docID.
func (h *Hub) NotifyAnnotationUpdate(ctx context.Context, docID string, page int, payload json.RawMessage) error {
	msg, err := json.Marshal(Update{
		Type:       "annotation_update",
		DocumentID: docID,
		PageIndex:  page,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	h.broadcast(docID, msg, nil)
	return nil
}

// broadcast queues msg for subscribers of docID other than skip.
func (h *Hub) broadcast(docID string, msg []byte, skip *client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[docID] {
		if c == skip {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn().Str("document_id", docID).Msg("subscriber queue full, dropping update")
		}
	}
}

// Subscribers returns the number of live connections for docID.
func (h *Hub) Subscribers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[docID])
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.subs[c.docID]
	if !ok {
		set = make(map[*client]struct{})
		h.subs[c.docID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if set, ok := h.subs[c.docID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			c.close()
		}
		if len(set) == 0 {
			delete(h.subs, c.docID)
		}
	}
	h.mu.Unlock()
}

// ServeWS upgrades the request and subscribes the connection to docID. Text
// messages received from the client are relayed to the document's other
// subscribers. It returns when the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, docID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, docID: docID, send: make(chan []byte, sendQueue)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return ErrClosed
	}
	h.log.Debug().Str("document_id", docID).Msg("subscriber connected")

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.log.Debug().Str("document_id", c.docID).Msg("subscriber disconnected")
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("document_id", c.docID).Msg("websocket read")
			}
			return
		}
		if kind == websocket.TextMessage {
			h.broadcast(c.docID, msg, c)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for docID, set := range h.subs {
		for c := range set {
			c.close()
		}
		delete(h.subs, docID)
	}
}
