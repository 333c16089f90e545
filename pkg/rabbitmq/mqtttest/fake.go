// Package mqtttest contiene un client MQTT in memoria per i test.
package mqtttest

import (
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type token struct{ err error }

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *token) Error() error { return t.err }

// Message implementa mqtt.Message.
type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
}

func (m *Message) Duplicate() bool   { return false }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 1 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published registra una Publish ricevuta dal fake.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client è un mqtt.Client in memoria: Deliver invoca l'handler sottoscritto.
type Client struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]mqtt.MessageHandler
	published []Published
	// SubscribeErr, se valorizzato, viene ritornato da ogni Subscribe.
	SubscribeErr error
}

func NewClient() *Client {
	return &Client{connected: true, subs: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool { return c.IsConnectionOpen() }

func (c *Client) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Connect() mqtt.Token {
	c.SetConnected(true)
	return &token{}
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.mu.Lock()
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	c.mu.Unlock()
	return &token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return &token{err: c.SubscribeErr}
	}
	c.subs[topic] = callback
	return &token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for t, q := range filters {
		c.Subscribe(t, q, callback)
	}
	return &token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return &token{}
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// SetConnected simula perdita/ripristino della connessione; la perdita azzera le sottoscrizioni
// come farebbe il broker con una clean session.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
	if !v {
		c.subs = make(map[string]mqtt.MessageHandler)
	}
}

// Deliver consegna payload all'handler del topic (match esatto); false se nessuno è sottoscritto.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &Message{TopicName: topic, Body: payload})
	return true
}

func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}
