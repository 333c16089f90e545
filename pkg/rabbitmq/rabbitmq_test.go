package rabbitmq

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agro_telemetry/pkg/rabbitmq/mqtttest"
)

func TestResubscribeAfterReconnect(t *testing.T) {
	fake := mqtttest.NewClient()
	conn := WrapClient(fake, "tcp://fake:1883")

	got := make(chan string, 4)
	h := func(_ mqtt.Client, m mqtt.Message) { got <- m.Topic() }
	if err := conn.Subscribe("sensors/a", 0, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := conn.Subscribe("control/status", 1, h); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	fake.SetConnected(false)
	if len(fake.Subscribed()) != 0 {
		t.Fatalf("fake should drop subscriptions on disconnect")
	}
	// sottoscrizione registrata mentre si è offline: attivata alla riconnessione
	if err := conn.Subscribe("sensors/b", 0, h); err != nil {
		t.Fatalf("offline subscribe: %v", err)
	}

	fake.SetConnected(true)
	conn.Resubscribe()

	want := []string{"control/status", "sensors/a", "sensors/b"}
	if !reflect.DeepEqual(fake.Subscribed(), want) {
		t.Fatalf("subscribed %v, want %v", fake.Subscribed(), want)
	}
	if !fake.Deliver("sensors/b", []byte("1")) {
		t.Fatalf("no handler for sensors/b")
	}
	if tp := <-got; tp != "sensors/b" {
		t.Fatalf("unexpected topic %s", tp)
	}
}

func TestUnsubscribeForgetsTopic(t *testing.T) {
	fake := mqtttest.NewClient()
	conn := WrapClient(fake, "x")
	_ = conn.Subscribe("a", 0, func(mqtt.Client, mqtt.Message) {})
	_ = conn.Unsubscribe("a")
	conn.Resubscribe()
	if len(conn.Topics()) != 0 || len(fake.Subscribed()) != 0 {
		t.Fatalf("topic should be gone: %v %v", conn.Topics(), fake.Subscribed())
	}
}

func TestSubscribeError(t *testing.T) {
	fake := mqtttest.NewClient()
	fake.SubscribeErr = errors.New("not authorized")
	conn := WrapClient(fake, "x")
	if err := conn.Subscribe("a", 0, func(mqtt.Client, mqtt.Message) {}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiConsumerUnsubscribesOnCancel(t *testing.T) {
	fake := mqtttest.NewClient()
	conn := WrapClient(fake, "x")
	calls := make(chan string, 1)
	mc := NewMultiConsumer(conn, []string{"control/a", "control/b"}, func(topic string, _ mqtt.Message) error {
		calls <- topic
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { mc.ConsumeMessage(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for len(fake.Subscribed()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	fake.Deliver("control/b", []byte("x"))
	if tp := <-calls; tp != "control/b" {
		t.Fatalf("got %s", tp)
	}
	cancel()
	<-done
	if len(fake.Subscribed()) != 0 {
		t.Fatalf("expected unsubscribe, still %v", fake.Subscribed())
	}
}

func TestPublisherUsesTopicQos(t *testing.T) {
	fake := mqtttest.NewClient()
	p := NewPublisher(WrapClient(fake, "x"), "control/pump/command")
	if err := p.PublishMessage(`{"a":1}`); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.PublishMessage(42); err == nil {
		t.Fatalf("expected format error")
	}
	pub := fake.Published()
	if len(pub) != 1 || pub[0].QoS != 1 || pub[0].Topic != "control/pump/command" {
		t.Fatalf("unexpected publish %+v", pub)
	}
}

func TestEndpointKey(t *testing.T) {
	a := RabbitMQConfig{Host: "Broker", Port: 1883, User: "u", ClientID: "c"}
	b := RabbitMQConfig{Host: "broker", Port: 1883, User: "u", ClientID: "c", Password: "other"}
	if a.Endpoint() != b.Endpoint() {
		t.Fatalf("endpoint should ignore host case and password")
	}
}
