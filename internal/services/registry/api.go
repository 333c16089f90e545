package registry

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// Routes registra la superficie minima del registry sotto /sensors.
func Routes(r chi.Router, reg *Registry) {
	r.Route("/sensors", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			list, err := reg.List(req.Context())
			writeResult(w, list, err)
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var s entities.Sensor
			if err := json.NewDecoder(req.Body).Decode(&s); err != nil {
				http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
				return
			}
			out, err := reg.Upsert(req.Context(), s)
			writeResult(w, out, err)
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			s, err := reg.Get(req.Context(), chi.URLParam(req, "id"))
			writeResult(w, s, err)
		})
		r.Put("/{id}/state", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				State entities.SensorState `json:"state"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			writeResult(w, nil, reg.SetState(req.Context(), chi.URLParam(req, "id"), body.State))
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			writeResult(w, nil, reg.Delete(req.Context(), chi.URLParam(req, "id")))
		})
	})
}

func writeResult(w http.ResponseWriter, v any, err error) {
	switch {
	case errors.Is(err, ErrInvalidSensor):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		log.Printf("registry: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	case v == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
}
