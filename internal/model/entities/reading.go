package entities

import "time"

// Reading è una misura calibrata e persistita (append-only).
type Reading struct {
	ID          string    `json:"id"`
	SensorID    *string   `json:"sensor_id,omitempty"`
	Topic       string    `json:"topic"`
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
	Observation string    `json:"observation,omitempty"`
}

// SensorKey ritorna l'id del sensore o, per letture non associate, il topic.
func (r Reading) SensorKey() string {
	if r.SensorID != nil && *r.SensorID != "" {
		return *r.SensorID
	}
	return "topic:" + r.Topic
}
