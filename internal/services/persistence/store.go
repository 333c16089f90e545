// Package persistence è il Reading Store: salva le letture normalizzate, aggiorna la cache
// del sensore e innesca broadcast e valutazione delle soglie.
package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/realtime"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/lockmap"
)

// Repository è la parte di storage usata dal Reading Store.
type Repository interface {
	AppendReading(ctx context.Context, r entities.Reading, historyLimit int) error
	QueryReadings(ctx context.Context, f storage.ReadingFilter) ([]entities.Reading, error)
	ListSensors(ctx context.Context) ([]entities.Sensor, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, sensor *entities.Sensor, r entities.Reading) (*entities.Alert, error)
}

// Mirror riceve una copia di ogni lettura accettata (serie temporale su Influx).
type Mirror interface {
	WriteReading(r entities.Reading)
}

type Config struct {
	HistorySize int
	RetryDelay  time.Duration
}

type Store struct {
	repo   Repository
	live   realtime.Broadcaster
	eval   Evaluator
	mirror Mirror
	locks  *lockmap.Map
	cfg    Config
	now    func() time.Time
}

func NewStore(repo Repository, live realtime.Broadcaster, eval Evaluator, mirror Mirror, cfg Config) *Store {
	if live == nil {
		live = realtime.Noop{}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Store{repo: repo, live: live, eval: eval, mirror: mirror, locks: lockmap.New(), cfg: cfg, now: time.Now}
}

// Write persiste la lettura (un retry) e, solo se il salvataggio riesce,
// la inoltra ai client live e al valutatore delle soglie.
func (s *Store) Write(ctx context.Context, n messages.NormalizedReading) (entities.Reading, error) {
	r := entities.Reading{
		ID:          uuid.NewString(),
		Topic:       n.Topic,
		Timestamp:   n.Timestamp,
		Value:       n.Value,
		Unit:        n.Unit,
		Observation: n.Observation,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	if n.Sensor != nil && n.Sensor.ID != "" {
		id := n.Sensor.ID
		r.SensorID = &id
	}

	unlock := s.locks.Lock(n.Key())
	defer unlock()

	start := time.Now()
	op := func() error { return s.repo.AppendReading(ctx, r, s.cfg.HistorySize) }
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), 1), ctx)
	err := backoff.Retry(op, b)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreFailures.Inc()
		return entities.Reading{}, fmt.Errorf("store reading on %s: %w", n.Topic, err)
	}
	metrics.ReadingsAccepted.WithLabelValues(string(n.Source)).Inc()

	if s.mirror != nil {
		s.mirror.WriteReading(r)
	}
	s.live.EmitReading(r)

	if s.eval != nil && n.Sensor != nil {
		if _, err := s.eval.Evaluate(ctx, n.Sensor, r); err != nil {
			log.Printf("persistence: evaluate %s: %v", n.Sensor.ID, err)
		}
	}
	return r, nil
}

// Query esegue la query storica sul database relazionale.
func (s *Store) Query(ctx context.Context, f storage.ReadingFilter) ([]entities.Reading, error) {
	return s.repo.QueryReadings(ctx, f)
}

// Latest ritorna i sensori con la loro cache (ultimo valore accettato).
func (s *Store) Latest(ctx context.Context) ([]entities.Sensor, error) {
	return s.repo.ListSensors(ctx)
}
