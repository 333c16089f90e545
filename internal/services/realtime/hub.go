// Package realtime inoltra letture e alert ai client websocket connessi.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
)

// Broadcaster è la superficie usata dal Reading Store e dall'Alert Notifier.
// Le chiamate non bloccano mai il chiamante.
type Broadcaster interface {
	EmitReading(r entities.Reading)
	EmitAlert(a entities.Alert)
}

// Noop scarta tutti gli eventi.
type Noop struct{}

func (Noop) EmitReading(entities.Reading) {}
func (Noop) EmitAlert(entities.Alert)     {}

type frame struct {
	rooms []string // nil = tutti i client
	data  []byte
}

// Hub mantiene i client attivi e distribuisce i frame per stanza (topic o id sensore).
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan frame
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan frame, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run serve register/unregister/broadcast fino alla cancellazione del context.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			metrics.LiveClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.LiveClients.Set(float64(n))
			log.Printf("realtime: client %s connected (%d)", c.conn.RemoteAddr(), n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.LiveClients.Set(float64(n))

		case f := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wantsAny(f.rooms) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					// client lento: viene disconnesso
					log.Printf("realtime: client %s too slow, evicting", c.conn.RemoteAddr())
					delete(h.clients, c)
					close(c.send)
				}
			}
			metrics.LiveClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

func (c *Client) wantsAny(rooms []string) bool {
	if rooms == nil {
		return true
	}
	for _, r := range rooms {
		if c.wants(r) {
			return true
		}
	}
	return false
}

// ClientCount ritorna il numero di client registrati.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS effettua l'upgrade e registra il client; ?topic=a,b limita le letture ricevute.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), topics: parseTopics(r.URL.Query().Get("topic"))}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func parseTopics(raw string) map[string]bool {
	out := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[t] = true
		}
	}
	return out
}

// EmitReading invia l'evento "reading" alle stanze del topic e del sensore.
func (h *Hub) EmitReading(r entities.Reading) {
	rooms := []string{r.Topic}
	if r.SensorID != nil && *r.SensorID != "" {
		rooms = append(rooms, *r.SensorID)
	}
	h.emit(messages.EventReading, messages.NewReadingEvent(r), rooms)
}

// EmitAlert invia l'evento "newAlert" a tutti i client.
func (h *Hub) EmitAlert(a entities.Alert) {
	h.emit(messages.EventNewAlert, messages.NewAlertEvent(a), nil)
}

// EmitControl rilancia un messaggio del canale di controllo a tutti i client.
func (h *Hub) EmitControl(ev messages.ControlEvent) {
	h.emit(messages.EventControl, ev, nil)
}

func (h *Hub) emit(kind string, payload any, rooms []string) {
	b, err := json.Marshal(messages.Envelope{Type: kind, Data: payload})
	if err != nil {
		log.Printf("realtime: marshal %s: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- frame{rooms: rooms, data: b}:
	default:
		metrics.BroadcastDropped.Inc()
	}
}
