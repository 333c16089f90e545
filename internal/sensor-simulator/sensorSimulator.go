package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/dedup"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/rabbitmq"
)

// SensorSimulator pubblica le letture di un sensore finto (modalità broker) oppure
// le serve via HTTP (modalità polling) e reagisce ai comandi StateChange della pompa.
type SensorSimulator struct {
	mu        sync.Mutex
	sensorID  string
	pumpID    string // pompa che irriga il terreno di questo sensore (opzionale)
	format    Format
	timer     *time.Timer // single timer
	generator *DataGenerator
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer[mqtt.Message]
	deduper   *dedup.Deduper
}

// NewSensorSimulator: publisher e consumer possono essere nil (solo HTTP).
func NewSensorSimulator(consumer rabbitmq.IConsumer[mqtt.Message], publisher rabbitmq.IPublisher,
	gen *DataGenerator, sensorID, pumpID string, format Format) *SensorSimulator {
	return &SensorSimulator{
		sensorID:  sensorID,
		pumpID:    pumpID,
		format:    format,
		generator: gen,
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000), // TTL e cap
	}
}

// Start avvia la ricezione dei cambi di stato e, se c'è un publisher, la pubblicazione periodica.
// Blocca fino alla cancellazione di ctx.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}
	if s.publisher == nil {
		<-ctx.Done()
		s.stopTimer()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			s.publisher.Close()
			return
		case <-ticker.C:
			if err := s.PublishOnce(); err != nil {
				log.Printf("simulator: %s: %v", s.sensorID, err)
			}
		}
	}
}

// PublishOnce genera e pubblica una lettura.
func (s *SensorSimulator) PublishOnce() error {
	payload, err := s.payload()
	if err != nil {
		return err
	}
	log.Printf("simulator: pub %s %s", s.sensorID, payload)
	return s.publisher.PublishMessage(payload)
}

func (s *SensorSimulator) payload() ([]byte, error) {
	return Encode(s.generator.Next(), s.format)
}

// ServeHTTP risponde al poller con una lettura fresca.
func (s *SensorSimulator) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	b, err := s.payload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.format == FormatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	_, _ = w.Write(b)
}

func (s *SensorSimulator) handleMessage(_ string, msg mqtt.Message) error {
	// redelivery QoS1: stesso payload → stesso hash
	if s.deduper != nil && !s.deduper.ShouldProcessPayload(msg.Topic(), msg.Payload()) {
		return nil
	}

	var evt messages.StateChangeEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid StateChangeEvent: %w", err)
	}
	if evt.SensorID != s.sensorID && (s.pumpID == "" || evt.SensorID != s.pumpID) {
		return nil
	}
	s.applyTimedState(evt)
	return nil
}

// applyTimedState accende o spegne la pompa; un'accensione con durata torna allo stato
// precedente allo scadere del timer.
func (s *SensorSimulator) applyTimedState(evt messages.StateChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	prev := s.generator.PumpOn()
	on := evt.NewState == entities.StateOn
	s.generator.SetPump(on)
	log.Printf("simulator: %s pump -> %s for %s (ticket %s)", s.sensorID, evt.NewState, evt.Duration, evt.TicketID)

	if on && evt.Duration > 0 {
		s.timer = time.AfterFunc(evt.Duration, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.generator.SetPump(prev)
			log.Printf("simulator: %s pump reverted to on=%v", s.sensorID, prev)
			s.timer = nil
		})
	}
}

func (s *SensorSimulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
