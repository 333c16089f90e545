package entities

import "time"

type AlertType string

const (
	AlertThresholdLow  AlertType = "threshold_low"
	AlertThresholdHigh AlertType = "threshold_high"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Chiavi note di Alert.ExtraData.
const (
	ExtraValor       = "valor"
	ExtraValorMinimo = "valor_minimo"
	ExtraValorMaximo = "valor_maximo"
	ExtraKind        = "kind"
	ExtraUnit        = "unit"
	ExtraTopic       = "topic"
	ExtraTitle       = "title"
)

// Alert nasce non letta (Leida=false) e non inviata (EnviadaEmail=false).
type Alert struct {
	ID           string         `json:"id"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	Date         string         `json:"date"` // YYYY-MM-DD
	Time         string         `json:"time"` // HH:MM:SS
	Leida        bool           `json:"leida"`
	EnviadaEmail bool           `json:"enviada_email"`
	ExtraData    map[string]any `json:"extra_data,omitempty"`
	SensorID     string         `json:"sensor_id"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Title ritorna il titolo leggibile salvato negli extra, o il tipo.
func (a Alert) Title() string {
	if t, ok := a.ExtraData[ExtraTitle].(string); ok && t != "" {
		return t
	}
	return string(a.Type)
}

// Valor ritorna il valore osservato salvato negli extra.
func (a Alert) Valor() (float64, bool) {
	switch v := a.ExtraData[ExtraValor].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
