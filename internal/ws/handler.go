// Package ws streams the log bus to browser clients: a snapshot of the
// ring buffer on connect, then live messages as runs progress.
package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

type Handler struct {
	bus      *logbus.Bus
	upgrader websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, allowOrigins []string) *Handler {
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowOrigins),
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Replay the buffer first so a client attaching mid-run still sees
	// how the batch started.
	for _, msg := range h.bus.Snapshot() {
		if !write(conn, msg) {
			return
		}
	}

	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

	gone := readUntilClosed(conn)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !write(conn, msg) {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, msg logbus.Message) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg) == nil
}

// readUntilClosed drains client frames (we expect none but pongs and
// the close handshake) and signals when the peer goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}

func originChecker(allowOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowOrigins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
