package messages

import (
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// StateChangeEvent è il comando di cambio stato inviato agli attuatori sul canale di controllo.
type StateChangeEvent struct {
	FieldID   string               `json:"field_id,omitempty"`
	SensorID  string               `json:"sensor_id"`
	NewState  entities.SwitchState `json:"new_state"`
	Duration  time.Duration        `json:"duration"`
	TicketID  string               `json:"ticket_id,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}
