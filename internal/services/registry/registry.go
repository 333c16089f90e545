// Package registry gestisce l'anagrafica dei sensori: configurazione, soglie e sorgente.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

var ErrInvalidSensor = errors.New("invalid sensor")

type Repository interface {
	UpsertSensor(ctx context.Context, s entities.Sensor) error
	GetSensor(ctx context.Context, id string) (entities.Sensor, error)
	ListSensors(ctx context.Context) ([]entities.Sensor, error)
	SetSensorState(ctx context.Context, id string, state entities.SensorState) error
	DeleteSensor(ctx context.Context, id string) error
}

// Registry notifica ai listener ogni modifica (id del sensore).
type Registry struct {
	repo      Repository
	mu        sync.RWMutex
	listeners []func(id string)
}

func New(repo Repository) *Registry {
	return &Registry{repo: repo}
}

// OnChange registra un listener; deve ritornare rapidamente.
func (r *Registry) OnChange(fn func(id string)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notify(id string) {
	r.mu.RLock()
	ls := append([]func(string){}, r.listeners...)
	r.mu.RUnlock()
	for _, fn := range ls {
		fn(id)
	}
}

func (r *Registry) List(ctx context.Context) ([]entities.Sensor, error) {
	return r.repo.ListSensors(ctx)
}

func (r *Registry) Get(ctx context.Context, id string) (entities.Sensor, error) {
	return r.repo.GetSensor(ctx, id)
}

// Upsert normalizza e valida la configurazione, poi la salva.
func (r *Registry) Upsert(ctx context.Context, s entities.Sensor) (entities.Sensor, error) {
	s = normalize(s)
	if err := Validate(s); err != nil {
		return entities.Sensor{}, err
	}
	s.UpdatedAt = time.Now().UTC()
	if err := r.repo.UpsertSensor(ctx, s); err != nil {
		return entities.Sensor{}, err
	}
	log.Printf("registry: upserted %s (kind=%s broker=%v http=%v state=%s)", s.ID, s.Kind, s.Broker.Enabled, s.HTTP.Enabled, s.State)
	r.notify(s.ID)
	return r.repo.GetSensor(ctx, s.ID)
}

func (r *Registry) SetState(ctx context.Context, id string, state entities.SensorState) error {
	if state != entities.StateEnabled && state != entities.StateDisabled {
		return fmt.Errorf("%w: state %q", ErrInvalidSensor, state)
	}
	if err := r.repo.SetSensorState(ctx, id, state); err != nil {
		return err
	}
	log.Printf("registry: %s -> %s", id, state)
	r.notify(id)
	return nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.DeleteSensor(ctx, id); err != nil {
		return err
	}
	log.Printf("registry: deleted %s", id)
	r.notify(id)
	return nil
}

func normalize(s entities.Sensor) entities.Sensor {
	s.ID = strings.TrimSpace(s.ID)
	if k, ok := entities.ParseKind(string(s.Kind)); ok {
		s.Kind = k
	}
	if s.State == "" {
		s.State = entities.StateEnabled
	}
	s.Broker.Topic = strings.TrimSpace(s.Broker.Topic)
	s.HTTP.URL = strings.TrimSpace(s.HTTP.URL)
	s.HTTP.Method = strings.ToUpper(strings.TrimSpace(s.HTTP.Method))
	if s.HTTP.Enabled && s.HTTP.Method == "" {
		s.HTTP.Method = "GET"
	}
	return s
}

// Validate applica i vincoli di configurazione: al più una sorgente attiva,
// tipo noto, soglie coerenti e parametri della sorgente completi.
func Validate(s entities.Sensor) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSensor, fmt.Sprintf(format, args...))
	}
	if s.ID == "" {
		return invalid("missing id")
	}
	if _, ok := entities.ParseKind(string(s.Kind)); !ok {
		return invalid("unknown kind %q", s.Kind)
	}
	if s.State != entities.StateEnabled && s.State != entities.StateDisabled {
		return invalid("state %q", s.State)
	}
	if s.Broker.Enabled && s.HTTP.Enabled {
		return invalid("%s: broker and http sources are mutually exclusive", s.ID)
	}
	if s.Broker.Enabled {
		if s.Broker.Topic == "" {
			return invalid("%s: broker source without topic", s.ID)
		}
		if s.Broker.Port < 0 || s.Broker.Port > 65535 {
			return invalid("%s: broker port %d", s.ID, s.Broker.Port)
		}
	}
	if s.HTTP.Enabled {
		u, err := url.Parse(s.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("%s: http source url %q", s.ID, s.HTTP.URL)
		}
		switch s.HTTP.Method {
		case "GET", "POST":
		default:
			return invalid("%s: http method %q", s.ID, s.HTTP.Method)
		}
		if s.HTTP.Interval < 0 {
			return invalid("%s: negative poll interval", s.ID)
		}
	}
	if s.ValorMinimo != nil && s.ValorMaximo != nil && *s.ValorMinimo > *s.ValorMaximo {
		return invalid("%s: valor_minimo %.2f > valor_maximo %.2f", s.ID, *s.ValorMinimo, *s.ValorMaximo)
	}
	return nil
}
