// Package threshold confronta ogni lettura con le soglie del sensore e apre gli alert.
package threshold

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/pkg/lockmap"
)

const DefaultDedupWindow = 15 * time.Minute

// AlertLookup è la parte dello storage usata per la finestra di dedup.
type AlertLookup interface {
	HasOpenAlert(ctx context.Context, sensorID string, since time.Time) (bool, error)
}

// Raiser persiste e notifica un alert (Alert Notifier).
type Raiser interface {
	Raise(ctx context.Context, a entities.Alert) error
}

type Evaluator struct {
	alerts   AlertLookup
	notifier Raiser
	window   time.Duration
	locks    *lockmap.Map
	now      func() time.Time
}

func NewEvaluator(alerts AlertLookup, notifier Raiser, window time.Duration) *Evaluator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Evaluator{alerts: alerts, notifier: notifier, window: window, locks: lockmap.New(), now: time.Now}
}

// Evaluate ritorna l'alert aperto, oppure nil se la lettura è nei limiti,
// il sensore non ha entrambe le soglie o esiste già un alert non letto nella finestra.
func (e *Evaluator) Evaluate(ctx context.Context, sensor *entities.Sensor, r entities.Reading) (*entities.Alert, error) {
	if sensor == nil || !sensor.HasBounds() {
		return nil, nil
	}
	lo, hi := *sensor.ValorMinimo, *sensor.ValorMaximo
	v := r.Value
	if v >= lo && v <= hi {
		return nil, nil
	}

	// check e inserimento sotto lo stesso lock: due violazioni concorrenti producono un solo alert
	unlock := e.locks.Lock(sensor.ID)
	defer unlock()

	now := e.now()
	open, err := e.alerts.HasOpenAlert(ctx, sensor.ID, now.Add(-e.window))
	if err != nil {
		return nil, fmt.Errorf("dedup lookup for %s: %w", sensor.ID, err)
	}
	if open {
		metrics.AlertsSuppressed.Inc()
		return nil, nil
	}

	a := buildAlert(sensor, r, now)
	if err := e.notifier.Raise(ctx, a); err != nil {
		return nil, err
	}
	metrics.AlertsRaised.WithLabelValues(string(a.Severity)).Inc()
	log.Printf("threshold: %s alert %s on %s (valor=%.2f)", a.Severity, a.Type, sensor.ID, v)
	return &a, nil
}

func buildAlert(sensor *entities.Sensor, r entities.Reading, now time.Time) entities.Alert {
	lo, hi := *sensor.ValorMinimo, *sensor.ValorMaximo
	v := r.Value
	label := kindLabel(sensor.Kind)

	var (
		typ         entities.AlertType
		bound, over float64
		title, desc string
	)
	if v < lo {
		typ, bound, over = entities.AlertThresholdLow, lo, lo-v
		title = "Low " + label
		desc = fmt.Sprintf("%s %s: valor %.2f%s below minimum %.2f%s", sensor.ID, label, v, r.Unit, lo, r.Unit)
	} else {
		typ, bound, over = entities.AlertThresholdHigh, hi, v-hi
		title = "High " + label
		desc = fmt.Sprintf("%s %s: valor %.2f%s above maximum %.2f%s", sensor.ID, label, v, r.Unit, hi, r.Unit)
	}
	if sensor.Name != "" {
		desc = sensor.Name + " (" + desc + ")"
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return entities.Alert{
		ID:          uuid.NewString(),
		Type:        typ,
		Severity:    Severity(over, hi-lo, bound),
		Description: desc,
		Date:        ts.UTC().Format("2006-01-02"),
		Time:        ts.UTC().Format("15:04:05"),
		SensorID:    sensor.ID,
		UserID:      sensor.UserID,
		CreatedAt:   now,
		ExtraData: map[string]any{
			entities.ExtraValor:       v,
			entities.ExtraValorMinimo: lo,
			entities.ExtraValorMaximo: hi,
			entities.ExtraKind:        string(sensor.Kind),
			entities.ExtraUnit:        r.Unit,
			entities.ExtraTopic:       r.Topic,
			entities.ExtraTitle:       title,
		},
	}
}

// Severity classifica lo scostamento rispetto all'ampiezza dell'intervallo.
// Con intervallo degenere si usa il valore assoluto della soglia (o 1).
func Severity(overshoot, span, bound float64) entities.Severity {
	if span <= 0 {
		span = math.Abs(bound)
	}
	if span == 0 {
		span = 1
	}
	switch ratio := overshoot / span; {
	case ratio < 0.10:
		return entities.SeverityLow
	case ratio < 0.25:
		return entities.SeverityMedium
	case ratio < 0.50:
		return entities.SeverityHigh
	default:
		return entities.SeverityCritical
	}
}

func kindLabel(k entities.SensorKind) string {
	switch k {
	case entities.KindTemperature:
		return "temperature"
	case entities.KindAirHumidity:
		return "air humidity"
	case entities.KindSoilHumidity:
		return "soil humidity"
	case entities.KindPumpState:
		return "pump state"
	}
	return "reading"
}
