// Package websocket pushes live reload notifications to browsers viewing
// rendered MDX pages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/mdxflow/internal/logging"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// ErrShutdown is returned by Broadcast after Shutdown.
var ErrShutdown = errors.New("websocket hub is shut down")

// Hub tracks connected browsers and fans messages out to them.
//
// A single goroutine owns the client set; connection handlers talk to it
// over the register and unregister channels, and a client's send channel
// is only closed by that goroutine.
type Hub struct {
	clients map[*Client]struct{}
	count   int
	countMu sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	originPatterns []string
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewHub starts a hub. originPatterns are host patterns accepted in the
// Origin header in addition to the request's own host.
func NewHub(logger logging.Logger, originPatterns ...string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*Client]struct{}),
		broadcast:      make(chan []byte, 64),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		originPatterns: originPatterns,
		logger:         logging.OrNop(logger).WithComponent("websocket"),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Debug(h.ctx, "Client connected", "remote", c.remoteAddr, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
				h.logger.Debug(h.ctx, "Client disconnected", "remote", c.remoteAddr, "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumers are dropped; the browser reconnects.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.setCount(len(h.clients))

		case <-h.ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			h.clients = nil
			h.setCount(0)
			return
		}
	}
}

func (h *Hub) setCount(n int) {
	h.countMu.Lock()
	h.count = n
	h.countMu.Unlock()
}

// ServeHTTP upgrades the request and streams messages until the browser
// goes away or the hub shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &Client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}

	// Browsers never send; CloseRead handles control frames and reports
	// when the peer disconnects.
	ctx := conn.CloseRead(h.ctx)
	h.writeLoop(ctx, c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.Close(websocket.StatusGoingAway, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "WebSocket write failed", "remote", c.remoteAddr, "error", err.Error())
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}

		case <-ctx.Done():
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// Broadcast queues msg for every connected client. A zero Timestamp is
// set to now.
func (h *Hub) Broadcast(msg UpdateMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-h.ctx.Done():
		return ErrShutdown
	default:
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.ctx.Done():
		return ErrShutdown
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast channel full, dropping message", "type", msg.Type)
		return nil
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.countMu.RLock()
	defer h.countMu.RUnlock()
	return h.count
}

// Shutdown disconnects every client and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
