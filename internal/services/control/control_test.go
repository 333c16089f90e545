package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishControl(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatalf("nothing published")
	}
	return f.msgs[len(f.msgs)-1]
}

type fakeSensors map[string]entities.Sensor

func (f fakeSensors) Get(_ context.Context, id string) (entities.Sensor, error) {
	s, ok := f[id]
	if !ok {
		return entities.Sensor{}, fmt.Errorf("sensor %s: %w", id, storage.ErrNotFound)
	}
	return s, nil
}

func startServer(t *testing.T, h *Handler) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterControlServiceServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn)
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestSetPumpStateOn(t *testing.T) {
	pub := &fakePublisher{}
	sensors := fakeSensors{"pump-1": {ID: "pump-1", FieldID: "field_1", Kind: entities.KindPumpState}}
	h := NewHandler(pub, sensors, "")
	h.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	cli := startServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := cli.SetPumpState(ctx, mustStruct(t, map[string]interface{}{
		"sensor_id": "pump-1", "state": "Encendida", "duration_min": 20,
	}))
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	f := resp.GetFields()
	if !f["success"].GetBoolValue() || f["ticket_id"].GetStringValue() == "" || f["new_state"].GetStringValue() != "on" {
		t.Fatalf("unexpected response: %v", resp)
	}

	msg := pub.last(t)
	if msg.topic != "event/StateChange/field_1/pump-1" {
		t.Fatalf("topic = %q", msg.topic)
	}
	var evt messages.StateChangeEvent
	if err := json.Unmarshal(msg.payload, &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt.NewState != entities.StateOn || evt.Duration != 20*time.Minute || evt.TicketID != f["ticket_id"].GetStringValue() {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestSetPumpStateOffHasNoDuration(t *testing.T) {
	pub := &fakePublisher{}
	cli := startServer(t, NewHandler(pub, nil, "cmd/{sensor}"))

	_, err := cli.SetPumpState(context.Background(), mustStruct(t, map[string]interface{}{
		"sensor_id": "pump-9", "state": false,
	}))
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	msg := pub.last(t)
	var evt messages.StateChangeEvent
	_ = json.Unmarshal(msg.payload, &evt)
	if msg.topic != "cmd/pump-9" || evt.NewState != entities.StateOff || evt.Duration != 0 {
		t.Fatalf("unexpected: %s %+v", msg.topic, evt)
	}
}

func TestSetPumpStateErrors(t *testing.T) {
	sensors := fakeSensors{"t1": {ID: "t1", Kind: entities.KindTemperature}}
	pub := &fakePublisher{}
	cli := startServer(t, NewHandler(pub, sensors, ""))
	ctx := context.Background()

	cases := []struct {
		name string
		req  map[string]interface{}
		code codes.Code
	}{
		{"missing sensor", map[string]interface{}{"state": "on"}, codes.InvalidArgument},
		{"bad state", map[string]interface{}{"sensor_id": "t1", "state": "maybe"}, codes.InvalidArgument},
		{"unknown sensor", map[string]interface{}{"sensor_id": "ghost", "state": "on"}, codes.NotFound},
		{"not an actuator", map[string]interface{}{"sensor_id": "t1", "state": "on"}, codes.FailedPrecondition},
	}
	for _, tc := range cases {
		_, err := cli.SetPumpState(ctx, mustStruct(t, tc.req))
		if status.Code(err) != tc.code {
			t.Fatalf("%s: code = %v (%v)", tc.name, status.Code(err), err)
		}
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("rejected requests must not publish: %+v", pub.msgs)
	}
}

func TestPublish(t *testing.T) {
	pub := &fakePublisher{}
	cli := startServer(t, NewHandler(pub, nil, ""))
	ctx := context.Background()

	if _, err := cli.Publish(ctx, mustStruct(t, map[string]interface{}{"topic": "control/x", "payload": "PING"})); err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if msg := pub.last(t); msg.topic != "control/x" || string(msg.payload) != "PING" {
		t.Fatalf("unexpected: %+v", msg)
	}

	if _, err := cli.Publish(ctx, mustStruct(t, map[string]interface{}{"payload": map[string]interface{}{"cmd": "reset"}})); err != nil {
		t.Fatalf("rpc: %v", err)
	}
	if msg := pub.last(t); msg.topic != "" || string(msg.payload) != `{"cmd":"reset"}` {
		t.Fatalf("unexpected: %q %s", msg.topic, msg.payload)
	}

	if _, err := cli.Publish(ctx, mustStruct(t, map[string]interface{}{"topic": "x"})); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("missing payload: %v", err)
	}

	pub.mu.Lock()
	pub.err = errors.New("broker down")
	pub.mu.Unlock()
	if _, err := cli.Publish(ctx, mustStruct(t, map[string]interface{}{"payload": "x"})); status.Code(err) != codes.Unavailable {
		t.Fatalf("publish error: %v", err)
	}
}
