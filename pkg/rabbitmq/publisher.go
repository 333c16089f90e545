package rabbitmq

import (
	"fmt"
	"log"
)

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// Publisher publishes on a fixed topic over a shared Conn
type Publisher struct {
	conn  *Conn
	topic string
	qos   byte
}

// NewPublisher creates a new Publisher; QoS follows QosFor(topic)
func NewPublisher(conn *Conn, topic string) *Publisher {
	return &Publisher{conn: conn, topic: topic, qos: QosFor(topic)}
}

func payloadOf(message interface{}) ([]byte, error) {
	switch m := message.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	}
	return nil, fmt.Errorf("invalid message format, expected string or []byte, got %T", message)
}

// PublishMessage publishes a message to the publisher topic
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishToQos(p.topic, p.qos, false, message)
}

func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	return p.PublishToQos(p.topic, qos, retained, message)
}

// PublishToQos publishes on an explicit topic, reusing the same connection
func (p *Publisher) PublishToQos(topic string, qos byte, retained bool, message interface{}) error {
	payload, err := payloadOf(message)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(topic, qos, retained, payload); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	log.Printf("Message published to topic '%s' (%d bytes, qos %d)", topic, len(payload), qos)
	return nil
}

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	CloseRabbitMQConn(p.conn)
}
