package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// HistoryQuerier è la sorgente alternativa della cronologia (Influx).
type HistoryQuerier interface {
	QueryReadings(ctx context.Context, f storage.ReadingFilter) ([]entities.Reading, error)
}

// Routes registra GET /readings e GET /data/latest. influx può essere nil.
func Routes(r chi.Router, s *Store, influx HistoryQuerier) {
	r.Get("/readings", readingsHandler(s, influx))
	r.Get("/data/latest", latestHandler(s))
}

func parseFilter(r *http.Request) (storage.ReadingFilter, error) {
	q := r.URL.Query()
	f := storage.ReadingFilter{
		SensorID: strings.TrimSpace(q.Get("sensor_id")),
		Topic:    strings.TrimSpace(q.Get("topic")),
		Unit:     strings.TrimSpace(q.Get("unit")),
		Limit:    storage.DefaultReadingLimit,
	}
	parseTime := func(k string) (time.Time, error) {
		v := strings.TrimSpace(q.Get(k))
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s: %q", k, v)
		}
		return t, nil
	}
	var err error
	if f.From, err = parseTime("from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime("to"); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("to before from")
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		f.Desc = true
	default:
		return f, fmt.Errorf("invalid order %q", q.Get("order"))
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		if n > storage.MaxReadingLimit {
			n = storage.MaxReadingLimit
		}
		f.Limit = n
	}
	return f, nil
}

// GET /readings?sensor_id=&topic=&unit=&from=&to=&order=asc|desc&limit=&source=sql|influx
func readingsHandler(s *Store, influx HistoryQuerier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		source := strings.ToLower(r.URL.Query().Get("source"))
		var out []entities.Reading
		switch source {
		case "", "sql":
			source = "sql"
			out, err = s.Query(ctx, f)
		case "influx":
			if influx == nil {
				http.Error(w, "influx not configured", http.StatusServiceUnavailable)
				return
			}
			out, err = influx.QueryReadings(ctx, f)
		default:
			http.Error(w, "invalid source", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Printf("persistence: query (%s): %v", source, err)
			w.Header().Set("X-Error", source+"-query-error")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", source)
		_ = json.NewEncoder(w).Encode(out)
	}
}

type latestOut struct {
	SensorID  string               `json:"sensor_id"`
	FieldID   string               `json:"field_id,omitempty"`
	Kind      entities.SensorKind  `json:"kind"`
	State     entities.SensorState `json:"state"`
	Value     *float64             `json:"value"`
	Unit      string               `json:"unit"`
	Timestamp string               `json:"timestamp,omitempty"`
}

// GET /data/latest: ultimo valore cachato per ogni sensore.
func latestHandler(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		sensors, err := s.Latest(ctx)
		if err != nil {
			log.Printf("persistence: latest: %v", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		out := make([]latestOut, 0, len(sensors))
		for _, sn := range sensors {
			o := latestOut{SensorID: sn.ID, FieldID: sn.FieldID, Kind: sn.Kind, State: sn.State,
				Value: sn.ValorActual, Unit: normalizer.Unit(sn.Kind)}
			if sn.UltimaLectura != nil {
				o.Timestamp = sn.UltimaLectura.UTC().Format(time.RFC3339)
			}
			out = append(out, o)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", "cache")
		_ = json.NewEncoder(w).Encode(out)
	}
}
