package normalizer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	bareNumberRe = regexp.MustCompile(`^[+-]?(?:[0-9][0-9.,]*|[.,][0-9]+)(?:[eE][+-]?[0-9]+)?$`)
	// un token numerico non attaccato a lettere, cifre o underscore (es. "s1" non conta)
	tokenRe = regexp.MustCompile(`(?:^|[^\w.,])([+-]?\d+(?:[.,]\d+)?(?:[eE][+-]?\d+)?)`)
)

var switchLexicon = map[string]bool{
	"ENCENDIDA": true, "ENCENDIDO": true, "ON": true, "ACTIVA": true, "ACTIVO": true, "TRUE": true, "1": true,
	"APAGADA": false, "APAGADO": false, "OFF": false, "INACTIVA": false, "INACTIVO": false, "FALSE": false, "0": false,
}

// ParseSwitch mappa il lessico on/off degli attuatori; ok=false se la parola non è nota.
func ParseSwitch(s string) (on bool, ok bool) {
	on, ok = switchLexicon[strings.ToUpper(strings.TrimSpace(s))]
	return on, ok
}

// ParseNumber interpreta un numero "nudo" normalizzando i separatori.
// "23,5" -> 23.5, "1.234,5" -> 1234.5, "1,234.5" -> 1234.5, "1e-05" -> 0.00001.
func ParseNumber(s string) (float64, bool) {
	f, ok, _ := parseNumber(s)
	return f, ok
}

// parseNumber distingue un testo non numerico (numeric=false) da un numero fuori scala.
func parseNumber(s string) (f float64, ok bool, numeric bool) {
	s = strings.TrimSpace(s)
	if !bareNumberRe.MatchString(s) {
		return 0, false, false
	}
	f, err := strconv.ParseFloat(normalizeSeparators(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, true
	}
	return f, true, true
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		// il separatore che compare per ultimo è quello decimale
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

func firstNumericToken(text string) (float64, bool) {
	m := tokenRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AdcScale seleziona il fondo scala dell'ADC dalla magnitudine del codice grezzo.
// Euristica: un valore basso letto da un convertitore ad alta risoluzione viene classificato male.
func AdcScale(raw float64) int {
	switch {
	case raw <= 1023:
		return 1023
	case raw <= 4095:
		return 4095
	default:
		return 65535
	}
}

// ConvertAdcToPercent converte un codice ADC in percentuale di umidità (codici alti = terreno più secco).
func ConvertAdcToPercent(raw float64) float64 {
	max := float64(AdcScale(raw))
	pct := ((max - raw) / max) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}
