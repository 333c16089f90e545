// Package ingestion è l'adapter MQTT: mantiene una connessione per endpoint di broker,
// sottoscrive i topic dei sensori e consegna le letture normalizzate alla coda di lavoro.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/dedup"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/rabbitmq"
)

// Sink riceve le letture normalizzate (coda di lavoro).
type Sink interface {
	Submit(ctx context.Context, n messages.NormalizedReading) error
}

// DialFunc apre una connessione verso un broker.
type DialFunc func(ctx context.Context, cfg rabbitmq.RabbitMQConfig) (*rabbitmq.Conn, error)

// DefaultDial usa paho con retry iniziale e riconnessione automatica.
func DefaultDial(ctx context.Context, cfg rabbitmq.RabbitMQConfig) (*rabbitmq.Conn, error) {
	return rabbitmq.NewRabbitMQConn(&cfg, ctx)
}

// ErrReservedTopic: il topic del sensore coincide con un topic del canale di controllo.
var ErrReservedTopic = errors.New("topic reserved for the control channel")

type Config struct {
	Default         rabbitmq.RabbitMQConfig
	ControlTopics   []string
	ControlPubTopic string
	UnboundTopics   []string
	EnqueueTimeout  time.Duration
}

type binding struct {
	endpoint string
	topic    string
}

type Adapter struct {
	cfg     Config
	dial    DialFunc
	sink    Sink
	control func(messages.ControlEvent)
	dedup   *dedup.Deduper
	now     func() time.Time

	// cfgMu serializza Subscribe/Unsubscribe; mu protegge le mappe (letta dagli handler).
	cfgMu     sync.Mutex
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	defaultEP string
	conns     map[string]*rabbitmq.Conn
	routes    map[string]map[string]map[string]entities.Sensor // endpoint -> topic -> sensor id -> snapshot
	bySensor  map[string]binding
	publisher *rabbitmq.Publisher
}

// NewAdapter: control riceve i messaggi del canale di controllo (può essere nil).
func NewAdapter(cfg Config, dial DialFunc, sink Sink, control func(messages.ControlEvent)) *Adapter {
	if dial == nil {
		dial = DefaultDial
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 2 * time.Second
	}
	if cfg.ControlPubTopic == "" {
		cfg.ControlPubTopic = "control/command"
	}
	return &Adapter{
		cfg:       cfg,
		dial:      dial,
		sink:      sink,
		control:   control,
		dedup:     dedup.New(10*time.Minute, 10000),
		now:       time.Now,
		defaultEP: cfg.Default.Endpoint(),
		conns:     make(map[string]*rabbitmq.Conn),
		routes:    make(map[string]map[string]map[string]entities.Sensor),
		bySensor:  make(map[string]binding),
	}
}

// Start apre la connessione di default, il canale di controllo e i topic non associati.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	conn, err := a.dial(ctx, a.cfg.Default)
	if err != nil {
		cancel()
		return fmt.Errorf("ingestion: default broker: %w", err)
	}
	a.mu.Lock()
	a.ctx, a.cancel = ctx, cancel
	a.conns[a.defaultEP] = conn
	a.publisher = rabbitmq.NewPublisher(conn, a.cfg.ControlPubTopic)
	a.mu.Unlock()

	if len(a.cfg.ControlTopics) > 0 {
		mc := rabbitmq.NewMultiConsumer(conn, a.cfg.ControlTopics, a.handleControl)
		go mc.ConsumeMessage(ctx)
	}
	for _, t := range a.cfg.UnboundTopics {
		if err := conn.Subscribe(t, rabbitmq.QosFor(t), a.unboundHandler()); err != nil {
			log.Printf("ingestion: subscribe unbound %s: %v", t, err)
		}
	}
	return nil
}

// Close interrompe il canale di controllo e chiude tutte le connessioni.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	conns := make([]*rabbitmq.Conn, 0, len(a.conns))
	for _, c := range a.conns {
		conns = append(conns, c)
	}
	a.conns = make(map[string]*rabbitmq.Conn)
	a.mu.Unlock()
	for _, c := range conns {
		rabbitmq.CloseRabbitMQConn(c)
	}
}

// Connected riporta lo stato della connessione di default.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	c := a.conns[a.defaultEP]
	a.mu.RUnlock()
	return c != nil && c.IsConnected()
}

func (a *Adapter) endpointFor(s entities.Sensor) (string, rabbitmq.RabbitMQConfig) {
	if strings.TrimSpace(s.Broker.Host) == "" {
		return a.defaultEP, a.cfg.Default
	}
	cfg := a.cfg.Default
	cfg.Host = strings.TrimSpace(s.Broker.Host)
	cfg.Port = s.Broker.Port
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	cfg.User, cfg.Password = s.Broker.User, s.Broker.Password
	cfg.ClientID = s.Broker.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("%s-%s-%d", a.cfg.Default.ClientID, cfg.Host, cfg.Port)
	}
	return cfg.Endpoint(), cfg
}

// connFor ritorna la connessione dell'endpoint, aprendola se necessario. Richiede cfgMu.
func (a *Adapter) connFor(ep string, cfg rabbitmq.RabbitMQConfig) (*rabbitmq.Conn, error) {
	a.mu.RLock()
	c, ctx := a.conns[ep], a.ctx
	a.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if ctx == nil {
		return nil, errors.New("ingestion: adapter not started")
	}
	c, err := a.dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ingestion: dial %s: %w", cfg.BrokerURL(), err)
	}
	a.mu.Lock()
	a.conns[ep] = c
	a.mu.Unlock()
	log.Printf("ingestion: opened connection to %s", c.Addr())
	return c, nil
}

// Subscribe associa il sensore al suo topic; richiamarlo con una configurazione diversa
// sposta la sottoscrizione, con la stessa aggiorna solo lo snapshot (soglie, tipo).
func (a *Adapter) Subscribe(s entities.Sensor) error {
	if !s.BrokerActive() {
		return a.Unsubscribe(s.ID)
	}
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()

	ep, cfg := a.endpointFor(s)
	topic := s.Broker.Topic
	if b, ok := a.binding(s.ID); ok && (b.endpoint != ep || b.topic != topic) {
		a.unbindLocked(s.ID)
	}
	// sulla connessione di default un topic ha un solo handler: non si sovrascrive il controllo
	if ep == a.defaultEP && a.isControlTopic(topic) {
		return fmt.Errorf("ingestion: sensor %s: %w: %s", s.ID, ErrReservedTopic, topic)
	}
	conn, err := a.connFor(ep, cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	topics := a.routes[ep]
	if topics == nil {
		topics = make(map[string]map[string]entities.Sensor)
		a.routes[ep] = topics
	}
	sensors := topics[topic]
	fresh := sensors == nil
	if fresh {
		sensors = make(map[string]entities.Sensor)
		topics[topic] = sensors
	}
	sensors[s.ID] = s
	a.bySensor[s.ID] = binding{endpoint: ep, topic: topic}
	n := len(a.bySensor)
	a.mu.Unlock()
	metrics.ActiveSources.WithLabelValues("broker").Set(float64(n))

	if fresh {
		// la Conn ricorda comunque la sottoscrizione e la ripristina alla riconnessione
		if err := conn.Subscribe(topic, rabbitmq.QosFor(topic), a.routeHandler(ep, topic)); err != nil {
			return fmt.Errorf("ingestion: subscribe %s: %w", topic, err)
		}
		log.Printf("ingestion: %s subscribed on %s (%s)", s.ID, topic, conn.Addr())
	}
	return nil
}

// Unsubscribe rimuove il sensore; il topic viene abbandonato quando non ha più sensori
// e la connessione chiusa quando l'endpoint non ha più topic.
func (a *Adapter) Unsubscribe(sensorID string) error {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.unbindLocked(sensorID)
}

func (a *Adapter) binding(id string) (binding, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.bySensor[id]
	return b, ok
}

func (a *Adapter) unbindLocked(sensorID string) error {
	a.mu.Lock()
	b, ok := a.bySensor[sensorID]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.bySensor, sensorID)
	n := len(a.bySensor)
	topics := a.routes[b.endpoint]
	delete(topics[b.topic], sensorID)
	emptyTopic := len(topics[b.topic]) == 0
	if emptyTopic {
		delete(topics, b.topic)
	}
	emptyEndpoint := len(topics) == 0 && b.endpoint != a.defaultEP
	if len(topics) == 0 {
		delete(a.routes, b.endpoint)
	}
	conn := a.conns[b.endpoint]
	if emptyEndpoint {
		delete(a.conns, b.endpoint)
	}
	a.mu.Unlock()
	metrics.ActiveSources.WithLabelValues("broker").Set(float64(n))

	if conn == nil {
		return nil
	}
	var err error
	switch {
	case emptyTopic && b.endpoint == a.defaultEP && a.isUnbound(b.topic):
		// il topic torna alla rotta senza sensore
		if err = conn.Subscribe(b.topic, rabbitmq.QosFor(b.topic), a.unboundHandler()); err != nil {
			log.Printf("ingestion: restore unbound %s: %v", b.topic, err)
		}
	case emptyTopic:
		if err = conn.Unsubscribe(b.topic); err != nil {
			log.Printf("ingestion: unsubscribe %s: %v", b.topic, err)
		}
	}
	if emptyEndpoint {
		rabbitmq.CloseRabbitMQConn(conn)
	}
	log.Printf("ingestion: %s unsubscribed from %s", sensorID, b.topic)
	return err
}

// Active ritorna gli id dei sensori con sottoscrizione attiva, ordinati.
func (a *Adapter) Active() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.bySensor))
	for id := range a.bySensor {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot ritorna la configurazione con cui il sensore è attualmente sottoscritto.
func (a *Adapter) Snapshot(id string) (entities.Sensor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.bySensor[id]
	if !ok {
		return entities.Sensor{}, false
	}
	s, ok := a.routes[b.endpoint][b.topic][id]
	return s, ok
}

// PublishControl pubblica un comando sul canale di controllo (QoS 1).
func (a *Adapter) PublishControl(topic string, payload []byte) error {
	a.mu.RLock()
	p := a.publisher
	a.mu.RUnlock()
	if p == nil {
		return errors.New("ingestion: adapter not started")
	}
	if strings.TrimSpace(topic) == "" {
		return p.PublishMessageQos(1, false, payload)
	}
	return p.PublishToQos(topic, 1, false, payload)
}

func (a *Adapter) routeHandler(ep, topic string) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		a.mu.RLock()
		bound := a.routes[ep][topic]
		sensors := make([]entities.Sensor, 0, len(bound))
		for _, s := range bound {
			sensors = append(sensors, s)
		}
		a.mu.RUnlock()
		for i := range sensors {
			a.deliver(&sensors[i], m)
		}
	}
}

func (a *Adapter) isControlTopic(topic string) bool {
	for _, t := range a.cfg.ControlTopics {
		if t == topic {
			return true
		}
	}
	return false
}

func (a *Adapter) isUnbound(topic string) bool {
	for _, t := range a.cfg.UnboundTopics {
		if t == topic {
			return true
		}
	}
	return false
}

func (a *Adapter) unboundHandler() mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		a.deliver(nil, m)
	}
}

// deliver normalizza il payload e lo accoda; gli errori vengono solo registrati.
func (a *Adapter) deliver(s *entities.Sensor, m mqtt.Message) {
	kind := entities.KindGeneric
	who := "topic " + m.Topic()
	if s != nil {
		kind, who = s.Kind, s.ID
	}
	res, err := normalizer.Normalize(kind, m.Payload())
	if err != nil {
		metrics.PayloadMalformed.WithLabelValues(string(messages.SourceBroker)).Inc()
		log.Printf("ingestion: %s: %v (%q)", who, err, truncate(m.Payload(), 64))
		return
	}
	n := messages.NormalizedReading{
		Sensor:      s,
		Topic:       m.Topic(),
		Value:       res.Value,
		Unit:        res.Unit,
		Observation: res.Observation,
		Timestamp:   a.now(),
		Source:      messages.SourceBroker,
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.EnqueueTimeout)
	defer cancel()
	if err := a.sink.Submit(ctx, n); err != nil {
		log.Printf("ingestion: %s: enqueue: %v", who, err)
	}
}

func (a *Adapter) handleControl(_ string, m mqtt.Message) error {
	if !a.dedup.ShouldProcessPayload(m.Topic(), m.Payload()) {
		return nil // redelivery QoS1
	}
	if a.control != nil {
		a.control(messages.ControlEvent{Topic: m.Topic(), Payload: string(m.Payload()), Timestamp: a.now().UTC()})
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
