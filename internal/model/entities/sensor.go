package entities

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SensorKind identifica il tipo di grandezza misurata; insieme chiuso.
type SensorKind string

const (
	KindTemperature  SensorKind = "temperature"
	KindAirHumidity  SensorKind = "air_humidity"
	KindSoilHumidity SensorKind = "soil_humidity"
	KindPumpState    SensorKind = "pump_state"
	KindGeneric      SensorKind = "generic"
)

// ParseKind accetta anche gli alias storici (es. "humedad_suelo", "temperatura").
func ParseKind(s string) (SensorKind, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "temperature", "temperatura", "temp":
		return KindTemperature, true
	case "air_humidity", "humidity", "humedad", "humedad_aire", "humedad_ambiente":
		return KindAirHumidity, true
	case "soil_humidity", "soil_moisture", "humedad_suelo", "moisture":
		return KindSoilHumidity, true
	case "pump_state", "pump", "bomba", "estado_bomba":
		return KindPumpState, true
	case "generic", "":
		return KindGeneric, true
	}
	return "", false
}

// SensorState indica se il sensore è attivo (riceve/pubblica letture) o disabilitato.
type SensorState string

const (
	StateEnabled  SensorState = "enabled"
	StateDisabled SensorState = "disabled"
)

// SwitchState è lo stato di un attuatore (pompa/valvola).
type SwitchState string

const (
	StateOff SwitchState = "off"
	StateOn  SwitchState = "on"
)

// BrokerConfig descrive la sorgente MQTT di un sensore.
// Host vuoto = broker di default del servizio.
type BrokerConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Topic    string `json:"topic,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// HTTPConfig descrive la sorgente in polling di un sensore.
type HTTPConfig struct {
	Enabled   bool              `json:"enabled"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	AuthToken string            `json:"auth_token,omitempty"`
	Interval  time.Duration     `json:"interval,omitempty"`
}

type httpConfigJSON struct {
	Enabled   bool              `json:"enabled"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	AuthToken string            `json:"auth_token,omitempty"`
	Interval  any               `json:"interval,omitempty"`
}

// MarshalJSON scrive l'intervallo come durata leggibile ("30s").
func (h HTTPConfig) MarshalJSON() ([]byte, error) {
	out := httpConfigJSON{Enabled: h.Enabled, URL: h.URL, Method: h.Method, Headers: h.Headers, AuthToken: h.AuthToken}
	if h.Interval > 0 {
		out.Interval = h.Interval.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accetta l'intervallo come durata ("30s") o come numero di secondi.
func (h *HTTPConfig) UnmarshalJSON(b []byte) error {
	var in httpConfigJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	d, err := ParseInterval(in.Interval)
	if err != nil {
		return err
	}
	*h = HTTPConfig{Enabled: in.Enabled, URL: in.URL, Method: in.Method, Headers: in.Headers, AuthToken: in.AuthToken, Interval: d}
	return nil
}

// ParseInterval converte "30s", "1m" o un numero di secondi in time.Duration.
func ParseInterval(v any) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case int:
		return time.Duration(t) * time.Second, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return 0, fmt.Errorf("invalid interval %v", v)
}

// HistoryPoint è un elemento della cronologia breve cachata sul sensore.
type HistoryPoint struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Sensor è un dispositivo registrato, con soglie e cache dell'ultima lettura.
type Sensor struct {
	ID      string      `json:"id"`
	Name    string      `json:"name,omitempty"`
	FieldID string      `json:"field_id,omitempty"`
	Kind    SensorKind  `json:"kind"`
	State   SensorState `json:"state"`

	Broker BrokerConfig `json:"broker"`
	HTTP   HTTPConfig   `json:"http"`

	ValorMinimo *float64 `json:"valor_minimo,omitempty"`
	ValorMaximo *float64 `json:"valor_maximo,omitempty"`

	ValorActual   *float64       `json:"valor_actual,omitempty"`
	UltimaLectura *time.Time     `json:"ultima_lectura,omitempty"`
	History       []HistoryPoint `json:"history,omitempty"`

	UserID      string    `json:"user_id,omitempty"`
	NotifyEmail string    `json:"notify_email,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s Sensor) Enabled() bool { return s.State == StateEnabled }

// HasBounds è vero solo se entrambe le soglie sono configurate.
func (s Sensor) HasBounds() bool { return s.ValorMinimo != nil && s.ValorMaximo != nil }

// BrokerActive: sensore abilitato con sorgente MQTT attiva.
func (s Sensor) BrokerActive() bool {
	return s.Enabled() && s.Broker.Enabled && strings.TrimSpace(s.Broker.Topic) != ""
}

// PollActive: sensore abilitato con sorgente HTTP attiva.
func (s Sensor) PollActive() bool {
	return s.Enabled() && s.HTTP.Enabled && strings.TrimSpace(s.HTTP.URL) != ""
}
