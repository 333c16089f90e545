package messages

import (
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// Nomi degli eventi della superficie live.
const (
	EventReading  = "reading"
	EventNewAlert = "newAlert"
	EventControl  = "control"
)

// Envelope è il frame inviato ai client websocket.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReadingEvent è il payload dell'evento "reading".
type ReadingEvent struct {
	SensorID  *string   `json:"sensor_id"`
	Topic     string    `json:"topic"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertEvent è il payload dell'evento "newAlert" (anche verso Kafka).
type AlertEvent struct {
	ID       string            `json:"id,omitempty"`
	Sensor   string            `json:"sensor"`
	Valor    float64           `json:"valor"`
	Severity entities.Severity `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
}

// ControlEvent rilancia ai client i messaggi ricevuti sul canale di controllo.
type ControlEvent struct {
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReadingEvent(r entities.Reading) ReadingEvent {
	return ReadingEvent{SensorID: r.SensorID, Topic: r.Topic, Value: r.Value, Unit: r.Unit, Timestamp: r.Timestamp}
}

func NewAlertEvent(a entities.Alert) AlertEvent {
	v, _ := a.Valor()
	return AlertEvent{ID: a.ID, Sensor: a.SensorID, Valor: v, Severity: a.Severity, Title: a.Title(), Message: a.Description}
}
