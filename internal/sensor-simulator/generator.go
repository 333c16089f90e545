package sensor_simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// ====== Tunables ======
const (
	// gainPerMin: +0.6% per minuto quando la pompa è accesa (in [0..1]).
	gainPerMin = 0.006

	// defaultSeed: umidità del terreno iniziale.
	defaultSeed = 0.30

	baseTemperature = 22.0
	baseAirHumidity = 55.0
)

// Format è lo stile del payload, per esercitare il normalizzatore come fanno i firmware reali.
type Format string

const (
	FormatJSON   Format = "json"   // {"temperatura": 23.4}
	FormatLocale Format = "locale" // {"temperatura": "23,4"} (virgola decimale)
	FormatText   Format = "text"   // T=23.4C
	FormatADC    Format = "adc"    // {"soil_moisture_adc": 45875}, solo umidità del terreno
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatLocale, FormatText, FormatADC:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown payload format %q", s)
}

// Sample è una lettura simulata, prima della codifica.
type Sample struct {
	Kind  entities.SensorKind
	Value float64 // °C, % oppure 1/0 per la pompa
	ADC   int     // codice grezzo, solo per l'umidità del terreno
	At    time.Time
}

// DataGenerator mantiene lo stato interno del sensore e lo aggiorna nel tempo.
// L'umidità del terreno sale mentre la pompa è accesa e decade quando è spenta.
type DataGenerator struct {
	mu          sync.Mutex
	kind        entities.SensorKind
	rnd         *rand.Rand
	now         func() time.Time
	last        time.Time
	moisture    float64 // [0..1]
	decayPerMin float64 // es. 0.001 → -0.1%/min a pompa spenta
	pumpOn      bool
	adcMax      float64
}

// NewDataGenerator: adcBits seleziona il fondo scala del codice ADC (10, 12 o 16 bit).
func NewDataGenerator(kind entities.SensorKind, decayPerMin float64, adcBits int, seed int64) *DataGenerator {
	max := 65535.0
	switch adcBits {
	case 10:
		max = 1023
	case 12:
		max = 4095
	}
	return &DataGenerator{
		kind:        kind,
		rnd:         rand.New(rand.NewSource(seed)),
		now:         time.Now,
		moisture:    defaultSeed,
		decayPerMin: math.Max(0, decayPerMin),
		adcMax:      max,
	}
}

// SetPump applica un cambio di stato della pompa.
func (g *DataGenerator) SetPump(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance(g.now().UTC())
	g.pumpOn = on
}

func (g *DataGenerator) PumpOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pumpOn
}

// advance aggiorna l'umidità del terreno fino a now.
func (g *DataGenerator) advance(now time.Time) {
	if g.last.IsZero() {
		g.last = now
		return
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	if g.pumpOn {
		g.moisture = clamp01(g.moisture + gainPerMin*dtMin)
	} else {
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now
}

// Next aggiorna lo stato interno e restituisce un Sample.
func (g *DataGenerator) Next() Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	g.advance(now)
	s := Sample{Kind: g.kind, At: now}

	switch g.kind {
	case entities.KindTemperature:
		// ciclo giornaliero + rumore
		h := float64(now.Hour()) + float64(now.Minute())/60
		s.Value = round1(baseTemperature + 6*math.Sin((h-9)/24*2*math.Pi) + g.rnd.NormFloat64()*0.3)
	case entities.KindAirHumidity:
		s.Value = round1(clamp(baseAirHumidity+g.rnd.NormFloat64()*4, 0, 100))
	case entities.KindSoilHumidity:
		pct := g.moisture * 100
		s.Value = round1(pct)
		s.ADC = int(math.Round(g.adcMax * (1 - g.moisture)))
	case entities.KindPumpState:
		if g.pumpOn {
			s.Value = 1
		}
	default:
		s.Value = round1(g.rnd.Float64() * 100)
	}
	return s
}

// Encode serializza il campione nello stile richiesto.
func Encode(s Sample, f Format) ([]byte, error) {
	field := fieldName(s.Kind)
	switch s.Kind {
	case entities.KindPumpState:
		word := "APAGADA"
		if s.Value == 1 {
			word = "ENCENDIDA"
		}
		if f == FormatText {
			return []byte(word), nil
		}
		return json.Marshal(map[string]any{field: word})
	case entities.KindSoilHumidity:
		if f == FormatADC {
			return json.Marshal(map[string]any{"soil_moisture_adc": s.ADC})
		}
	}

	switch f {
	case FormatJSON:
		return json.Marshal(map[string]any{field: s.Value, "ts": s.At.Format(time.RFC3339)})
	case FormatLocale:
		return json.Marshal(map[string]any{"data": map[string]any{field: localeNumber(s.Value)}})
	case FormatText:
		return []byte(textPrefix(s.Kind) + strconv.FormatFloat(s.Value, 'f', 1, 64) + unitSuffix(s.Kind)), nil
	case FormatADC:
		return nil, fmt.Errorf("format %s only applies to %s", f, entities.KindSoilHumidity)
	}
	return nil, fmt.Errorf("unknown payload format %q", f)
}

func fieldName(k entities.SensorKind) string {
	switch k {
	case entities.KindTemperature:
		return "temperatura"
	case entities.KindAirHumidity:
		return "humedad"
	case entities.KindSoilHumidity:
		return "humedad_suelo"
	case entities.KindPumpState:
		return "estado"
	}
	return "valor"
}

func textPrefix(k entities.SensorKind) string {
	switch k {
	case entities.KindTemperature:
		return "T="
	case entities.KindAirHumidity:
		return "H="
	case entities.KindSoilHumidity:
		return "soil "
	}
	return ""
}

func unitSuffix(k entities.SensorKind) string {
	switch k {
	case entities.KindTemperature:
		return "C"
	case entities.KindAirHumidity, entities.KindSoilHumidity:
		return "%"
	}
	return ""
}

func localeNumber(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', 1, 64), ".", ",", 1)
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func clamp01(x float64) float64 { return clamp(x, 0, 1) }
