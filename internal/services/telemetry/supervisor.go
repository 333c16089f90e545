package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

type SensorSource interface {
	List(ctx context.Context) ([]entities.Sensor, error)
}

// BrokerSubscriber è l'adapter MQTT visto dal supervisore.
type BrokerSubscriber interface {
	Subscribe(s entities.Sensor) error
	Unsubscribe(id string) error
	Active() []string
}

// PollScheduler è il poller HTTP visto dal supervisore.
type PollScheduler interface {
	Start(ctx context.Context, s entities.Sensor)
	Stop(id string)
	Running() []string
}

// Supervisor allinea sottoscrizioni e loop di polling al contenuto del registro.
type Supervisor struct {
	src      SensorSource
	broker   BrokerSubscriber
	poll     PollScheduler
	interval time.Duration
	kick     chan struct{}
}

func NewSupervisor(src SensorSource, broker BrokerSubscriber, poll PollScheduler, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{src: src, broker: broker, poll: poll, interval: interval, kick: make(chan struct{}, 1)}
}

// Notify richiede una riconciliazione; non blocca (da usare con registry.OnChange).
func (s *Supervisor) Notify(string) {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run riconcilia subito, poi ad ogni tick e ad ogni notifica, fino alla cancellazione di ctx.
func (s *Supervisor) Run(ctx context.Context) {
	s.reconcileLogged(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.reconcileLogged(ctx)
	}
}

func (s *Supervisor) reconcileLogged(ctx context.Context) {
	if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
		log.Printf("telemetry: reconcile: %v", err)
	}
}

// Reconcile avvia le sorgenti dei sensori attivi e ferma quelle non più presenti.
// Un errore su un sensore non blocca gli altri.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	list, err := s.src.List(ctx)
	if err != nil {
		return err
	}
	wantBroker := make(map[string]bool)
	wantPoll := make(map[string]bool)
	for _, sn := range list {
		if sn.BrokerActive() {
			wantBroker[sn.ID] = true
			if err := s.broker.Subscribe(sn); err != nil {
				log.Printf("telemetry: subscribe %s: %v", sn.ID, err)
			}
		}
		if sn.PollActive() {
			wantPoll[sn.ID] = true
			s.poll.Start(ctx, sn)
		}
	}
	for _, id := range s.broker.Active() {
		if !wantBroker[id] {
			if err := s.broker.Unsubscribe(id); err != nil {
				log.Printf("telemetry: unsubscribe %s: %v", id, err)
			}
		}
	}
	for _, id := range s.poll.Running() {
		if !wantPoll[id] {
			s.poll.Stop(id)
		}
	}
	return nil
}
