package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultRetryInterval = 5 * time.Second
	tokenTimeout         = 10 * time.Second
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// RetryInterval è l'intervallo fisso tra i tentativi di riconnessione.
	RetryInterval time.Duration
}

// Endpoint identifica la connessione: sensori con lo stesso endpoint condividono il client.
func (c RabbitMQConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d|%s|%s", strings.ToLower(strings.TrimSpace(c.Host)), c.Port, c.User, c.ClientID)
}

func (c RabbitMQConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Subscriber è la parte di Conn usata da Consumer e MultiConsumer.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// Conn incapsula il client MQTT e ricorda le sottoscrizioni attive,
// così da ripristinarle ad ogni riconnessione (clean session).
type Conn struct {
	client mqtt.Client
	addr   string

	mu   sync.RWMutex
	subs map[string]subscription
}

// WrapClient costruisce una Conn attorno ad un client già creato.
// Chi lo usa deve chiamare Resubscribe dopo ogni (ri)connessione.
func WrapClient(client mqtt.Client, addr string) *Conn {
	return &Conn{client: client, addr: addr, subs: make(map[string]subscription)}
}

func NewRabbitMQConn(cfg *RabbitMQConfig, ctx context.Context) (*Conn, error) {
	connAddr := cfg.BrokerURL()
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}

	conn := WrapClient(nil, connAddr)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(retry)
	opts.SetMaxReconnectInterval(retry)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("mqtt: connected to %s", connAddr)
		conn.Resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection to %s lost: %v (retry every %s)", connAddr, err, retry)
	})

	// Exponential backoff per le retry in caso di fail sulla prima connessione
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	maxRetries := 5

	err := backoff.Retry(func() error {
		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("Failed to connect to MQTT broker %s: %v", connAddr, token.Error())
			return token.Error()
		}
		conn.mu.Lock()
		conn.client = client
		conn.mu.Unlock()
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection to %s after retries: %w", connAddr, err)
	}

	// OnConnect può essere scattato prima che client fosse assegnato
	conn.Resubscribe()

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(conn)
	}()

	return conn, nil
}

func (c *Conn) Client() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Conn) Addr() string { return c.addr }

func (c *Conn) IsConnected() bool {
	cl := c.Client()
	return cl != nil && cl.IsConnectionOpen()
}

// Subscribe registra la sottoscrizione e, se connessi, la attiva subito.
func (c *Conn) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	cl := c.client
	c.mu.Unlock()

	if cl == nil || !cl.IsConnectionOpen() {
		// verrà attivata dal prossimo OnConnect
		return nil
	}
	return waitToken(cl.Subscribe(topic, qos, handler), "subscribe "+topic)
}

func (c *Conn) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	cl := c.client
	c.mu.Unlock()

	if cl == nil || !cl.IsConnectionOpen() {
		return nil
	}
	return waitToken(cl.Unsubscribe(topic), "unsubscribe "+topic)
}

// Resubscribe ripristina tutte le sottoscrizioni note.
func (c *Conn) Resubscribe() {
	c.mu.RLock()
	cl := c.client
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.RUnlock()

	if cl == nil {
		return
	}
	for topic, s := range subs {
		if err := waitToken(cl.Subscribe(topic, s.qos, s.handler), "subscribe "+topic); err != nil {
			log.Printf("mqtt: resubscribe %s on %s failed: %v", topic, c.addr, err)
			continue
		}
		log.Printf("mqtt: subscribed %s on %s (qos %d)", topic, c.addr, s.qos)
	}
}

// Topics ritorna i topic sottoscritti, ordinati.
func (c *Conn) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	cl := c.Client()
	if cl == nil {
		return fmt.Errorf("mqtt: not connected to %s", c.addr)
	}
	return waitToken(cl.Publish(topic, qos, retained, payload), "publish "+topic)
}

func waitToken(t mqtt.Token, op string) error {
	if !t.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("mqtt: %s timed out", op)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("mqtt: %s: %w", op, err)
	}
	return nil
}

func CloseRabbitMQConn(c *Conn) {
	if c == nil {
		return
	}
	cl := c.Client()
	if cl != nil && cl.IsConnected() {
		cl.Disconnect(250)
		log.Printf("MQTT connection to %s closed.", c.addr)
	}
}
