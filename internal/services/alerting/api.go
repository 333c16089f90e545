package alerting

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// Routes registra GET /alerts e PUT /alerts/{id}/read.
func Routes(r chi.Router, store Store) {
	r.Get("/alerts", listHandler(store))
	r.Put("/alerts/{id}/read", readHandler(store))
}

func listHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := storage.AlertFilter{
			SensorID:   strings.TrimSpace(q.Get("sensor_id")),
			UnreadOnly: q.Get("unread") == "true" || q.Get("unread") == "1",
			Limit:      100,
		}
		if v := strings.TrimSpace(q.Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if n > 1000 {
				n = 1000
			}
			f.Limit = n
		}
		out, err := store.ListAlerts(r.Context(), f)
		if err != nil {
			log.Printf("alerting: list: %v", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func readHandler(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := store.MarkAlertRead(r.Context(), id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "alert not found", http.StatusNotFound)
		case err != nil:
			log.Printf("alerting: mark read %s: %v", id, err)
			http.Error(w, "update failed", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
