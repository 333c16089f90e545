package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// DefaultTopicTemplate è il topic dei comandi StateChange.
const DefaultTopicTemplate = "event/StateChange/{field}/{sensor}"

// durata di default per un'accensione senza durata esplicita
const defaultOnDuration = 15 * time.Minute

// ControlPublisher è la capacità di pubblicazione dell'adapter broker.
type ControlPublisher interface {
	PublishControl(topic string, payload []byte) error
}

// SensorLookup risolve il sensore destinatario; opzionale.
type SensorLookup interface {
	Get(ctx context.Context, id string) (entities.Sensor, error)
}

// Handler implementa ControlServiceServer sopra il canale di controllo MQTT.
type Handler struct {
	pub           ControlPublisher
	sensors       SensorLookup
	topicTemplate string
	now           func() time.Time
}

func NewHandler(pub ControlPublisher, sensors SensorLookup, topicTemplate string) *Handler {
	return &Handler{
		pub:           pub,
		sensors:       sensors,
		topicTemplate: topicTemplate,
		now:           time.Now,
	}
}

// Publish inoltra un payload arbitrario; topic vuoto = topic di controllo di default.
func (h *Handler) Publish(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	topic := strings.TrimSpace(fields["topic"].GetStringValue())

	v := fields["payload"]
	if v.GetKind() == nil {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	var payload []byte
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		payload = []byte(s.StringValue)
	} else {
		b, err := json.Marshal(v.AsInterface())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "encode payload: %v", err)
		}
		payload = b
	}

	if err := h.pub.PublishControl(topic, payload); err != nil {
		log.Printf("control: publish on %q failed: %v", topic, err)
		return nil, status.Errorf(codes.Unavailable, "publish failed: %v", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"success": true,
		"topic":   topic,
	})
}

// SetPumpState pubblica un StateChangeEvent per l'attuatore indicato.
func (h *Handler) SetPumpState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	sid := strings.TrimSpace(fields["sensor_id"].GetStringValue())
	fid := strings.TrimSpace(fields["field_id"].GetStringValue())
	if sid == "" {
		return nil, status.Error(codes.InvalidArgument, "sensor_id is required")
	}

	on, ok := switchField(fields["state"])
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "state must be on/off (encendida/apagada)")
	}

	if h.sensors != nil {
		s, err := h.sensors.Get(ctx, sid)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, status.Errorf(codes.NotFound, "unknown sensor %s", sid)
		case err != nil:
			return nil, status.Errorf(codes.Internal, "lookup sensor: %v", err)
		case s.Kind != entities.KindPumpState:
			return nil, status.Errorf(codes.FailedPrecondition, "sensor %s is not an actuator (%s)", sid, s.Kind)
		}
		if fid == "" {
			fid = s.FieldID
		}
	}

	evt := messages.StateChangeEvent{
		FieldID:   fid,
		SensorID:  sid,
		NewState:  entities.StateOff,
		TicketID:  uuid.New().String(),
		Timestamp: h.now().UTC(),
	}
	if on {
		evt.NewState = entities.StateOn
		evt.Duration = defaultOnDuration
		if d := fields["duration_min"].GetNumberValue(); d > 0 {
			evt.Duration = time.Duration(math.Ceil(d)) * time.Minute
		}
	}

	b, err := json.Marshal(evt)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode event: %v", err)
	}
	topic := formatTopic(h.topicTemplate, fid, sid)
	if err := h.pub.PublishControl(topic, b); err != nil {
		log.Printf("control: state %s for %s failed: %v", evt.NewState, sid, err)
		return nil, status.Errorf(codes.Unavailable, "publish state %s failed: %v", evt.NewState, err)
	}
	log.Printf("control: %s -> %s (ticket %s, duration %s)", sid, evt.NewState, evt.TicketID, evt.Duration)

	return structpb.NewStruct(map[string]interface{}{
		"success":   true,
		"ticket_id": evt.TicketID,
		"topic":     topic,
		"new_state": string(evt.NewState),
		"message":   fmt.Sprintf("pump %s set %s", sid, evt.NewState),
	})
}

func switchField(v *structpb.Value) (bool, bool) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue, true
	case *structpb.Value_StringValue:
		return normalizer.ParseSwitch(k.StringValue)
	case *structpb.Value_NumberValue:
		switch k.NumberValue {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}

func formatTopic(tmpl, fieldID, sensorID string) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTopicTemplate
	}
	if fieldID == "" {
		fieldID = "default"
	}
	return strings.NewReplacer("{field}", fieldID, "{sensor}", sensorID).Replace(tmpl)
}
