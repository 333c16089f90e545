package realtime

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // tempo massimo per scrivere un frame
	pongWait       = 60 * time.Second    // tempo massimo tra due pong
	pingPeriod     = (pongWait * 9) / 10 // deve essere < pongWait
	maxMessageSize = 512                 // i client non inviano dati applicativi
	sendBuffer     = 64
)

// Client collega una connessione websocket all'hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool // vuoto = tutte le letture
}

func (c *Client) wants(room string) bool {
	if room == "" || len(c.topics) == 0 {
		return true
	}
	return c.topics[room]
}

// readPump consuma i frame in ingresso (solo controllo: ping/pong/close).
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: read error from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// writePump invia all'utente i frame accodati dall'hub e i ping periodici.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// l'hub ha chiuso il canale
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("realtime: write error to %s: %v", c.conn.RemoteAddr(), err)
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
