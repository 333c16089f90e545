package entities

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHTTPConfigJSON(t *testing.T) {
	in := HTTPConfig{Enabled: true, URL: "http://dev/api", Interval: 90 * time.Second}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out HTTPConfig
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.Interval != 90*time.Second || out.URL != in.URL || !out.Enabled {
		t.Fatalf("got %+v from %s", out, b)
	}

	if err := json.Unmarshal([]byte(`{"enabled":true,"url":"u","interval":15}`), &out); err != nil || out.Interval != 15*time.Second {
		t.Fatalf("numeric seconds: %v %v", out.Interval, err)
	}
	if err := json.Unmarshal([]byte(`{"interval":"soon"}`), &out); err == nil {
		t.Fatalf("expected error for invalid interval")
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]SensorKind{
		"Temperatura":   KindTemperature,
		"humedad-suelo": KindSoilHumidity,
		"humidity":      KindAirHumidity,
		"BOMBA":         KindPumpState,
		"":              KindGeneric,
	}
	for in, want := range cases {
		if got, ok := ParseKind(in); !ok || got != want {
			t.Errorf("ParseKind(%q) = %s, %v", in, got, ok)
		}
	}
	if _, ok := ParseKind("pressure"); ok {
		t.Errorf("unknown kind accepted")
	}
}

func TestSensorSourceFlags(t *testing.T) {
	s := Sensor{State: StateEnabled, Broker: BrokerConfig{Enabled: true, Topic: "a"}}
	if !s.BrokerActive() || s.PollActive() {
		t.Fatalf("broker flags wrong")
	}
	s.State = StateDisabled
	if s.BrokerActive() {
		t.Fatalf("disabled sensor must not be active")
	}
	min := 1.0
	s.ValorMinimo = &min
	if s.HasBounds() {
		t.Fatalf("one bound only")
	}
}
