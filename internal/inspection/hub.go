package inspection

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the slice of *websocket.Conn the hub needs. Kept narrow so
// tests can substitute a recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket subscriber pinned to a product_no.
type Client struct {
	conn      Conn
	productNo string

	writeMu sync.Mutex
}

func NewClient(conn Conn, productNo string) *Client {
	return &Client{conn: conn, productNo: productNo}
}

func (c *Client) ProductNo() string { return c.productNo }

// Send writes one text message. Errors are returned but the hub treats
// them as fire-and-forget; the client's read loop does the reaping.
func (c *Client) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) Close() { c.conn.Close() }

// Hub is the per-product websocket subscriber registry.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.productNo]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.productNo] = set
	}
	set[c] = struct{}{}
	log.Printf("Inspection hub: subscriber added for %s (%d total)", c.productNo, len(set))
}

func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.productNo]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.productNo)
	}
}

// Products returns the product_nos with at least one live subscriber.
func (h *Hub) Products() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.clients))
	for p := range h.clients {
		out = append(out, p)
	}
	return out
}

// Broadcast dispatches payload to every subscriber of productNo.
// Fire-and-forget: a failed send is swallowed here and the client is
// left to be reaped by its own read loop.
func (h *Hub) Broadcast(productNo string, payload []byte) int {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.clients[productNo]))
	for c := range h.clients[productNo] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			log.Printf("[DEBUG] Inspection hub: send to %s subscriber failed: %v", productNo, err)
		}
	}
	return len(targets)
}

// ClientCount reports live subscribers across all products.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
