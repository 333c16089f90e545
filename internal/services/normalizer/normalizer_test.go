package normalizer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

func TestConvertAdcToPercent(t *testing.T) {
	cases := []struct {
		raw  float64
		want float64
	}{
		{50000, 23.70},
		{3000, 26.74},
		{0, 100},
		{1023, 0},
		{1024, 74.99},
		{4095, 0},
		{65535, 0},
		{512, 49.95},
	}
	for _, c := range cases {
		if got := ConvertAdcToPercent(c.raw); got != c.want {
			t.Fatalf("ConvertAdcToPercent(%v) = %v, want %v", c.raw, got, c.want)
		}
	}
}

func TestConvertAdcToPercentBoundedAndDecreasing(t *testing.T) {
	ranges := [][2]int{{0, 1023}, {1024, 4095}, {4096, 65535}}
	for _, rg := range ranges {
		prev := 101.0
		for r := rg[0]; r <= rg[1]; r += 7 {
			got := ConvertAdcToPercent(float64(r))
			if got < 0 || got > 100 {
				t.Fatalf("raw %d out of range: %v", r, got)
			}
			if got > prev {
				t.Fatalf("not decreasing at raw %d: %v > %v", r, got, prev)
			}
			prev = got
		}
	}
	// codici oltre il fondo scala massimo vengono saturati a 0
	if got := ConvertAdcToPercent(70000); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		kind entities.SensorKind
		raw  string
		want float64
		unit string
	}{
		{"soil adc field", entities.KindSoilHumidity, `{"soil_moisture_adc": 3000}`, 26.74, "%"},
		{"soil percent preferred over adc", entities.KindSoilHumidity, `{"humedad_suelo": 41.5, "adc": 3000}`, 41.5, "%"},
		{"soil plausible percent untouched", entities.KindSoilHumidity, `85`, 85, "%"},
		{"soil bare adc", entities.KindSoilHumidity, `50000`, 23.70, "%"},
		{"soil quoted adc", entities.KindSoilHumidity, `"3000"`, 26.74, "%"},
		{"temperature comma decimal", entities.KindTemperature, `23,5`, 23.5, "°C"},
		{"temperature string field", entities.KindTemperature, `{"temperatura":"21,4"}`, 21.4, "°C"},
		{"temperature case insensitive field", entities.KindTemperature, `{"Temperature": 19}`, 19, "°C"},
		{"temperature token fallback", entities.KindTemperature, `temp=19.5C`, 19.5, "°C"},
		{"temperature unknown field token", entities.KindTemperature, `{"sensor":"s1","t":"18"}`, 18, "°C"},
		{"air humidity nested", entities.KindAirHumidity, `{"data":{"humidity":61}}`, 61, "%"},
		{"thousands separators", entities.KindGeneric, `1.234,5`, 1234.5, ""},
		{"pump lexicon", entities.KindPumpState, `ENCENDIDA`, 1, "state"},
		{"pump lexicon lowercase", entities.KindPumpState, `apagada`, 0, "state"},
		{"pump field", entities.KindPumpState, `{"estado":"ACTIVA"}`, 1, "state"},
		{"pump json bool", entities.KindPumpState, `false`, 0, "state"},
		{"pump numeric passthrough", entities.KindPumpState, `"2"`, 2, "state"},
		{"unknown kind uses generic", entities.SensorKind("ph"), `{"valor": 6.8}`, 6.8, ""},
		{"bare exponent", entities.KindTemperature, `1e2`, 100, "°C"},
		{"bare exponent fraction", entities.KindTemperature, `2.5e1`, 25, "°C"},
		{"small exponent", entities.KindGeneric, `1e-05`, 0.00001, ""},
		{"field exponent", entities.KindAirHumidity, `{"humidity": 6.1e1}`, 61, "%"},
		{"soil bare adc exponent", entities.KindSoilHumidity, `3e3`, 26.74, "%"},
		{"soil quoted adc exponent", entities.KindSoilHumidity, `"3E3"`, 26.74, "%"},
		{"token exponent", entities.KindTemperature, `temp=2.15e1C`, 21.5, "°C"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Normalize(c.kind, []byte(c.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Value != c.want || got.Unit != c.unit {
				t.Fatalf("got %v %q, want %v %q", got.Value, got.Unit, c.want, c.unit)
			}
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, raw := range []string{``, `   `, `abc`, `{"foo":"bar"}`, `{"sensor":"s1"}`, `NaN`, `[}`,
		`1e400`, `"1e400"`, `{"temperature": 1e400}`, `{"temperatura": "-1e999", "id": "s 5"}`,
		`{"data": {"temp": 1e400}}`} {
		_, err := Normalize(entities.KindTemperature, []byte(raw))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("Normalize(%q): expected ErrMalformedPayload, got %v", raw, err)
		}
	}
}

func TestNormalizeIsPure(t *testing.T) {
	raw := []byte(`{"soil_moisture_adc": 3000}`)
	orig := append([]byte(nil), raw...)
	a, errA := Normalize(entities.KindSoilHumidity, raw)
	b, errB := Normalize(entities.KindSoilHumidity, raw)
	if errA != nil || errB != nil {
		t.Fatalf("errors: %v %v", errA, errB)
	}
	if a != b {
		t.Fatalf("non deterministic: %+v vs %+v", a, b)
	}
	if !bytes.Equal(raw, orig) {
		t.Fatalf("input mutated")
	}
}

func TestParseNumber(t *testing.T) {
	ok := map[string]float64{
		"23.5":      23.5,
		"23,5":      23.5,
		"-3,2":      -3.2,
		"1.234,5":   1234.5,
		"1,234.5":   1234.5,
		"1.234.567": 1234567,
		"+7":        7,
		"1e-05":     0.00001,
		"2,5e1":     25,
		"-4E2":      -400,
	}
	for in, want := range ok {
		got, good := ParseNumber(in)
		if !good || got != want {
			t.Fatalf("ParseNumber(%q) = %v,%v want %v", in, got, good, want)
		}
	}
	for _, in := range []string{"", "12abc", "NaN", "Inf", "0x10", "--1", "1e400", "1e", "e5"} {
		if _, good := ParseNumber(in); good {
			t.Fatalf("ParseNumber(%q) should fail", in)
		}
	}
}

func TestParseSwitch(t *testing.T) {
	for _, w := range []string{"ENCENDIDA", "on", "Activa", "TRUE", "1"} {
		if on, ok := ParseSwitch(w); !ok || !on {
			t.Fatalf("%q should be on", w)
		}
	}
	for _, w := range []string{"APAGADA", "off", "inactiva", "false", "0"} {
		if on, ok := ParseSwitch(w); !ok || on {
			t.Fatalf("%q should be off", w)
		}
	}
	if _, ok := ParseSwitch("maybe"); ok {
		t.Fatalf("unknown word accepted")
	}
}
