package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/timeseries"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthHandler struct {
	broker func() bool
	db     Pinger
	writer *timeseries.Writer
}

// NewHealthHandler riporta lo stato di broker, database e writer Influx (nil = disabilitato).
func NewHealthHandler(broker func() bool, db Pinger, w *timeseries.Writer) http.Handler {
	return &healthHandler{broker: broker, db: db, writer: w}
}

type healthStatus struct {
	Status          string  `json:"status"`
	BrokerConnected bool    `json:"broker_connected"`
	DatabaseOK      bool    `json:"database_ok"`
	LastWriteErrorS float64 `json:"last_write_error_age_sec"`
}

func check(ctx context.Context, broker func() bool, db Pinger) (bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return broker != nil && broker(), db != nil && db.Ping(ctx) == nil
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{LastWriteErrorS: h.writer.LastErrorAge().Seconds()}
	st.BrokerConnected, st.DatabaseOK = check(r.Context(), h.broker, h.db)

	// ok se deps ok e nessun errore recente di scrittura
	switch {
	case st.BrokerConnected && st.DatabaseOK && h.writer.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.BrokerConnected || st.DatabaseOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Handler /readyz: 200 solo se tutte le dipendenze sono ok.
type readyHandler struct {
	broker   func() bool
	db       Pinger
	writer   *timeseries.Writer
	minError time.Duration
}

func NewReadyHandler(broker func() bool, db Pinger, w *timeseries.Writer, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{broker: broker, db: db, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	brokerOK, dbOK := check(r.Context(), h.broker, h.db)
	ready := brokerOK && dbOK && h.writer.LastErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
