package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/alerting"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/persistence"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/poller"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/realtime"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/registry"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/threshold"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

type pipeline struct {
	db       *storage.SQLStore
	reg      *registry.Registry
	store    *persistence.Store
	notifier *alerting.Notifier
	queue    *Queue
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notifier := alerting.NewNotifier(db, db, realtime.Noop{}, alerting.Options{RetryDelay: time.Millisecond})
	eval := threshold.NewEvaluator(db, notifier, time.Hour)
	store := persistence.NewStore(db, realtime.Noop{}, eval, nil, persistence.Config{HistorySize: 10, RetryDelay: time.Millisecond})
	q := NewQueue(store, 2, 16, time.Second)
	q.Start(context.Background())
	return &pipeline{db: db, reg: registry.New(db), store: store, notifier: notifier, queue: q}
}

func f64(v float64) *float64 { return &v }

func TestPollToAlertPipeline(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var body atomic.Value
	body.Store("ERR sensor offline")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body.Load().(string)))
	}))
	defer srv.Close()

	sn, err := p.reg.Upsert(ctx, entities.Sensor{
		ID: "t1", Kind: entities.KindTemperature,
		HTTP:        entities.HTTPConfig{Enabled: true, URL: srv.URL, Interval: time.Minute},
		ValorMinimo: f64(10), ValorMaximo: f64(30),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pl := poller.New(poller.Config{}, srv.Client(), p.queue)
	if err := pl.PollOnce(ctx, sn); !errors.Is(err, normalizer.ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}

	body.Store(`{"temperatura": "35,5"}`)
	if err := pl.PollOnce(ctx, sn); err != nil {
		t.Fatalf("poll: %v", err)
	}
	p.queue.Close()
	p.notifier.Wait()

	if n, _ := p.db.CountReadings(ctx, "t1"); n != 1 {
		t.Fatalf("readings = %d, want 1 (malformed payload must not be stored)", n)
	}
	got, _ := p.db.GetSensor(ctx, "t1")
	if got.ValorActual == nil || *got.ValorActual != 35.5 {
		t.Fatalf("cache = %v", got.ValorActual)
	}
	alerts, err := p.db.ListAlerts(ctx, storage.AlertFilter{SensorID: "t1"})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("alerts: %v %+v", err, alerts)
	}
	if alerts[0].Type != entities.AlertThresholdHigh {
		t.Fatalf("type = %s", alerts[0].Type)
	}
}

func TestRouter(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	if _, err := p.reg.Upsert(ctx, entities.Sensor{
		ID: "s1", Kind: entities.KindAirHumidity,
		Broker: entities.BrokerConfig{Enabled: true, Topic: "sensors/s1"},
	}); err != nil {
		t.Fatal(err)
	}
	hub := realtime.NewHub(8)
	h := NewRouter(RouterDeps{
		Registry: p.reg,
		Store:    p.store,
		Alerts:   p.db,
		Hub:      hub,
		Health:   persistence.NewHealthHandler(func() bool { return true }, p.db, nil),
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sensors")
	if err != nil {
		t.Fatal(err)
	}
	var list []entities.Sensor
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || len(list) != 1 || list[0].ID != "s1" {
		t.Fatalf("GET /sensors: %d %+v", resp.StatusCode, list)
	}

	for _, path := range []string{"/readings", "/data/latest", "/alerts", "/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: %d", path, resp.StatusCode)
		}
	}

	resp, err = http.Get(srv.URL + "/readings?source=influx")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("influx without querier: %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/sensors", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS headers: %v", resp.Header)
	}
}
