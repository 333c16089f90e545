package timeseries

import (
	"log"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// Writer incapsula la WriteAPI asincrona e traccia l'ultimo errore di scrittura per /healthz e /readyz.
type Writer struct {
	api         api.WriteAPI
	measurement string
	mu          sync.RWMutex
	lastErr     time.Time
	counts      map[string]int64
}

// NewWriter inizializza il writer e attiva il listener degli errori asincroni di Influx.
func NewWriter(w api.WriteAPI, measurement string) *Writer {
	ww := &Writer{
		api:         w,
		measurement: measurement,
		lastErr:     time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
		counts:      make(map[string]int64),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = time.Now()
				ww.mu.Unlock()
				log.Printf("influx write error: %v", err)
			}
		}
	}()
	return ww
}

// WriteReading accoda il punto; l'invio è in batch e non blocca il chiamante.
func (w *Writer) WriteReading(r entities.Reading) {
	if w == nil {
		return
	}
	w.api.WritePoint(ReadingToPoint(w.measurement, r))
	w.MarkIngest(r.Unit)
}

// Flush forza l'invio dei punti in coda (usato allo shutdown).
func (w *Writer) Flush() {
	if w == nil {
		return
	}
	w.api.Flush()
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		// writer non configurato: nessun errore possibile
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// MarkIngest incrementa un contatore interno per unità di misura (utile al debug).
func (w *Writer) MarkIngest(key string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.counts[key]++
	w.mu.Unlock()
}

func (w *Writer) Count(key string) int64 {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	c := w.counts[key]
	w.mu.RUnlock()
	return c
}
