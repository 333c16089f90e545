// Package normalizer trasforma payload eterogenei dei sensori in un valore calibrato con unità.
// Tutte le funzioni sono pure: stesso input, stesso output, nessun effetto collaterale.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// ErrMalformedPayload: nessun valore numerico estraibile dal payload.
var ErrMalformedPayload = errors.New("malformed payload")

// Result è l'esito della normalizzazione.
type Result struct {
	Value       float64
	Unit        string
	Observation string
}

// profile descrive come estrarre il valore per un tipo di sensore.
type profile struct {
	unit      string
	fields    []string // campi diretti, in ordine di preferenza
	adcFields []string // campi con codice ADC grezzo, convertiti in percentuale
	switchLex bool     // payload on/off (pompe)
	adcOver   float64  // valori scalari oltre questa soglia sono trattati come ADC (0 = mai)
}

var profiles = map[entities.SensorKind]profile{
	entities.KindTemperature: {
		unit:   "°C",
		fields: []string{"temperature", "temperatura", "temp", "value", "valor"},
	},
	entities.KindAirHumidity: {
		unit:   "%",
		fields: []string{"air_humidity", "humedad_aire", "humidity", "humedad", "value", "valor"},
	},
	entities.KindSoilHumidity: {
		unit:      "%",
		fields:    []string{"soil_moisture", "humedad_suelo", "moisture", "soil_moisture_percent", "value", "valor"},
		adcFields: []string{"soil_moisture_adc", "adc", "raw", "valor_adc"},
		adcOver:   100,
	},
	entities.KindPumpState: {
		unit:      "state",
		fields:    []string{"state", "estado", "status", "pump", "bomba", "value"},
		switchLex: true,
	},
	entities.KindGeneric: {
		fields: []string{"value", "valor", "reading", "lectura"},
	},
}

// contenitori annidati che alcuni firmware usano attorno ai campi
var envelopes = []string{"data", "payload", "datos"}

// Unit ritorna l'unità canonica per il tipo di sensore.
func Unit(kind entities.SensorKind) string {
	return profileFor(kind).unit
}

func profileFor(kind entities.SensorKind) profile {
	if p, ok := profiles[kind]; ok {
		return p
	}
	return profiles[entities.KindGeneric]
}

// Normalize estrae il valore calibrato da raw secondo il tipo di sensore.
// Ordine: oggetto strutturato con campi noti, numero nudo, primo token numerico del testo.
func Normalize(kind entities.SensorKind, raw []byte) (Result, error) {
	p := profileFor(kind)
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Result{}, ErrMalformedPayload
	}

	scalar := text
	if doc, ok := decodeJSON(raw); ok {
		switch v := doc.(type) {
		case map[string]any:
			r, ok, err := p.fromObject(v)
			if err != nil {
				return Result{}, fmt.Errorf("%w: kind=%s: %v", ErrMalformedPayload, kind, err)
			}
			if ok {
				return r, nil
			}
		case json.Number:
			if p.switchLex {
				if on, ok := ParseSwitch(v.String()); ok {
					return p.switchResult(on, "lexicon"), nil
				}
			}
			f, err := v.Float64()
			if err != nil || !isFinite(f) {
				return Result{}, fmt.Errorf("%w: kind=%s: number %s out of range", ErrMalformedPayload, kind, v)
			}
			return p.scalar(f, "bare"), nil
		case string:
			scalar = strings.TrimSpace(v)
		case bool:
			scalar = strconv.FormatBool(v)
		}
	}

	if p.switchLex {
		if on, ok := ParseSwitch(scalar); ok {
			return p.switchResult(on, "lexicon"), nil
		}
	}
	f, ok, numeric := parseNumber(scalar)
	if ok {
		return p.scalar(f, "bare"), nil
	}
	if numeric {
		return Result{}, fmt.Errorf("%w: kind=%s: number %q out of range", ErrMalformedPayload, kind, scalar)
	}
	if f, ok := firstNumericToken(text); ok {
		return p.scalar(f, "token"), nil
	}
	return Result{}, fmt.Errorf("%w: kind=%s", ErrMalformedPayload, kind)
}

func decodeJSON(raw []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return doc, true
}

// fromObject cerca i campi noti; un campo numerico presente ma non finito è un errore,
// non un motivo per passare al token successivo.
func (p profile) fromObject(obj map[string]any) (Result, bool, error) {
	for _, name := range p.fields {
		v, ok := lookup(obj, name)
		if !ok {
			continue
		}
		if p.switchLex {
			if on, ok := switchValue(v); ok {
				return p.switchResult(on, "field="+name), true, nil
			}
		}
		f, ok, numeric := number(v)
		if ok {
			return p.scalar(f, "field="+name), true, nil
		}
		if numeric {
			return Result{}, false, fmt.Errorf("field %s out of range", name)
		}
	}
	for _, name := range p.adcFields {
		v, ok := lookup(obj, name)
		if !ok {
			continue
		}
		f, ok, numeric := number(v)
		if ok {
			return p.adc(f, "field="+name), true, nil
		}
		if numeric {
			return Result{}, false, fmt.Errorf("field %s out of range", name)
		}
	}
	for _, env := range envelopes {
		if inner, ok := lookup(obj, env); ok {
			if m, ok := inner.(map[string]any); ok {
				r, ok, err := p.fromObject(m)
				if err != nil || ok {
					return r, ok, err
				}
			}
		}
	}
	return Result{}, false, nil
}

func (p profile) scalar(f float64, how string) Result {
	if p.adcOver > 0 && f > p.adcOver {
		return p.adc(f, how)
	}
	return Result{Value: f, Unit: p.unit, Observation: how}
}

func (p profile) adc(raw float64, how string) Result {
	pct := ConvertAdcToPercent(raw)
	return Result{
		Value:       pct,
		Unit:        p.unit,
		Observation: fmt.Sprintf("%s adc=%g/%d", how, raw, AdcScale(raw)),
	}
}

func (p profile) switchResult(on bool, how string) Result {
	v := 0.0
	if on {
		v = 1
	}
	return Result{Value: v, Unit: p.unit, Observation: how}
}

// lookup cerca prima la chiave esatta, poi senza distinzione maiuscole/minuscole
// (a parità, vince la chiave minore in ordine lessicografico).
func lookup(obj map[string]any, name string) (any, bool) {
	if v, ok := obj[name]; ok && v != nil {
		return v, true
	}
	best := ""
	found := false
	for k, v := range obj {
		if v != nil && strings.EqualFold(k, name) && (!found || k < best) {
			best, found = k, true
		}
	}
	if !found {
		return nil, false
	}
	return obj[best], true
}

// number ritorna il valore se v è un numero finito; numeric è vero se v ha forma
// numerica ma non è rappresentabile (es. 1e400).
func number(v any) (f float64, ok bool, numeric bool) {
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil || !isFinite(x) {
			return 0, false, true
		}
		return x, true, true
	case float64:
		return t, isFinite(t), true
	case string:
		return parseNumber(t)
	}
	return 0, false, false
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func switchValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case json.Number:
		return ParseSwitch(t.String())
	case string:
		return ParseSwitch(t)
	}
	return false, false
}
