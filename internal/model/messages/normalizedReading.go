package messages

import (
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// Source indica l'adapter che ha prodotto la lettura.
type Source string

const (
	SourceBroker Source = "broker"
	SourceHTTP   Source = "http"
)

// NormalizedReading è la tupla che gli adapter consegnano al Reading Store.
// Sensor è una copia del sensore al momento della ricezione; nil per topic non associati.
type NormalizedReading struct {
	Sensor      *entities.Sensor
	Topic       string
	Value       float64
	Unit        string
	Observation string
	Timestamp   time.Time
	Source      Source
}

// Key è la chiave di ordinamento per-sensore usata dalla coda di lavoro.
func (n NormalizedReading) Key() string {
	if n.Sensor != nil && n.Sensor.ID != "" {
		return n.Sensor.ID
	}
	return "topic:" + n.Topic
}
