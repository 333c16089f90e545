// Package alerting persiste gli alert e li notifica (live, Kafka, email).
package alerting

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/realtime"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// Store è la parte dello storage usata dal notifier e dalle route /alerts.
type Store interface {
	InsertAlert(ctx context.Context, a entities.Alert) error
	MarkAlertEmailed(ctx context.Context, id string) error
	MarkAlertRead(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, f storage.AlertFilter) ([]entities.Alert, error)
}

// SensorLookup risolve il destinatario email dal sensore.
type SensorLookup interface {
	GetSensor(ctx context.Context, id string) (entities.Sensor, error)
}

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EventPublisher inoltra l'alert a un bus esterno (Kafka).
type EventPublisher interface {
	PublishAlert(ctx context.Context, ev messages.AlertEvent) error
	Close() error
}

type Options struct {
	Mailer     Mailer         // nil = email disabilitata
	Events     EventPublisher // nil = nessun inoltro
	RetryDelay time.Duration

	// circuit breaker SMTP
	CBFails      int
	CBOpenMs     int
	CBIntervalMs int

	NotifyTimeout time.Duration
}

type Notifier struct {
	store   Store
	sensors SensorLookup
	live    realtime.Broadcaster
	mailer  Mailer
	events  EventPublisher
	cb      *gobreaker.CircuitBreaker
	retry   time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

func mkCB(name string, fails, openMs, intervalMs int) *gobreaker.CircuitBreaker {
	if fails <= 0 {
		fails = 3
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: time.Duration(intervalMs) * time.Millisecond,
		Timeout:  time.Duration(openMs) * time.Millisecond,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("alerting: breaker %s %s -> %s", name, from, to)
		},
	})
}

func NewNotifier(store Store, sensors SensorLookup, live realtime.Broadcaster, opts Options) *Notifier {
	if live == nil {
		live = realtime.Noop{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	return &Notifier{
		store:   store,
		sensors: sensors,
		live:    live,
		mailer:  opts.Mailer,
		events:  opts.Events,
		cb:      mkCB("smtp", opts.CBFails, opts.CBOpenMs, opts.CBIntervalMs),
		retry:   opts.RetryDelay,
		timeout: opts.NotifyTimeout,
	}
}

// Raise salva l'alert (un retry) e poi lo notifica.
// Solo il fallimento della persistenza viene ritornato: le notifiche sono best-effort.
func (n *Notifier) Raise(ctx context.Context, a entities.Alert) error {
	op := func() error { return n.store.InsertAlert(ctx, a) }
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(n.retry), 1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("persist alert %s: %w", a.ID, err)
	}

	n.live.EmitAlert(a)

	if n.events != nil {
		n.async(func(ctx context.Context) {
			if err := n.events.PublishAlert(ctx, messages.NewAlertEvent(a)); err != nil {
				metrics.NotifyFailures.WithLabelValues("kafka").Inc()
				log.Printf("alerting: kafka publish %s: %v", a.ID, err)
			}
		})
	}
	if n.mailer != nil {
		n.async(func(ctx context.Context) { n.sendEmail(ctx, a) })
	}
	return nil
}

func (n *Notifier) async(fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (n *Notifier) sendEmail(ctx context.Context, a entities.Alert) {
	to := n.recipient(ctx, a.SensorID)
	if to == "" {
		return
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title())
	body := fmt.Sprintf("%s\n\nSensor: %s\nDate: %s %s UTC\n", a.Description, a.SensorID, a.Date, a.Time)

	_, err := n.cb.Execute(func() (interface{}, error) {
		return nil, n.mailer.Send(ctx, to, subject, body)
	})
	if err != nil {
		metrics.NotifyFailures.WithLabelValues("email").Inc()
		log.Printf("alerting: email for %s to %s: %v", a.ID, to, err)
		return
	}
	if err := n.store.MarkAlertEmailed(ctx, a.ID); err != nil {
		log.Printf("alerting: mark emailed %s: %v", a.ID, err)
	}
}

func (n *Notifier) recipient(ctx context.Context, sensorID string) string {
	if n.sensors == nil || sensorID == "" {
		return ""
	}
	s, err := n.sensors.GetSensor(ctx, sensorID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s.NotifyEmail)
}

// Wait attende le notifiche in corso.
func (n *Notifier) Wait() { n.wg.Wait() }

// Close attende le notifiche e chiude il publisher.
func (n *Notifier) Close() error {
	n.Wait()
	if n.events != nil {
		return n.events.Close()
	}
	return nil
}
