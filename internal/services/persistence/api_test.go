package persistence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

type fakeInflux struct{ last storage.ReadingFilter }

func (f *fakeInflux) QueryReadings(_ context.Context, fl storage.ReadingFilter) ([]entities.Reading, error) {
	f.last = fl
	return []entities.Reading{{ID: "influx-1", Topic: "sensors/soil-1", Value: 1}}, nil
}

func get(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

func TestReadingRoutes(t *testing.T) {
	s, _, _, _, _ := setup(t, 0)
	ctx := context.Background()
	for i, v := range []float64{40, 41, 42} {
		n := soilReading(v)
		n.Timestamp = n.Timestamp.Add(time.Duration(i) * time.Minute)
		if _, err := s.Write(ctx, n); err != nil {
			t.Fatal(err)
		}
	}
	influx := &fakeInflux{}
	r := chi.NewRouter()
	Routes(r, s, influx)
	srv := httptest.NewServer(r)
	defer srv.Close()

	var got []entities.Reading
	resp := get(t, srv.URL+"/readings?sensor_id=soil-1&order=desc&limit=2", &got)
	if resp.Header.Get("X-Data-Source") != "sql" || len(got) != 2 || got[0].Value != 42 || got[1].Value != 41 {
		t.Fatalf("sql readings: %+v", got)
	}

	got = nil
	resp = get(t, srv.URL+"/readings?source=influx&topic=sensors/soil-1&from=2024-06-01T00:00:00Z", &got)
	if resp.Header.Get("X-Data-Source") != "influx" || len(got) != 1 || influx.last.Topic != "sensors/soil-1" || influx.last.From.IsZero() {
		t.Fatalf("influx readings: %+v %+v", got, influx.last)
	}

	for _, q := range []string{"?from=yesterday", "?order=sideways", "?limit=-1", "?source=mongo",
		"?from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z"} {
		if resp := get(t, srv.URL+"/readings"+q, nil); resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", q, resp.StatusCode)
		}
	}

	var latest []latestOut
	resp = get(t, srv.URL+"/data/latest", &latest)
	if resp.Header.Get("X-Data-Source") != "cache" || len(latest) != 1 || latest[0].Value == nil ||
		*latest[0].Value != 42 || latest[0].Unit != "%" {
		t.Fatalf("latest: %+v", latest)
	}
}

func TestReadingsInfluxNotConfigured(t *testing.T) {
	s, _, _, _, _ := setup(t, 0)
	r := chi.NewRouter()
	Routes(r, s, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()
	if resp := get(t, srv.URL+"/readings?source=influx", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	_, repo, _, _, _ := setup(t, 0)
	connected := true
	broker := func() bool { return connected }

	srv := httptest.NewServer(NewHealthHandler(broker, repo, nil))
	defer srv.Close()
	ready := httptest.NewServer(NewReadyHandler(broker, repo, nil, 30*time.Second))
	defer ready.Close()

	var st healthStatus
	get(t, srv.URL, &st)
	if st.Status != "ok" || !st.DatabaseOK || !st.BrokerConnected {
		t.Fatalf("health: %+v", st)
	}
	if resp := get(t, ready.URL, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("ready status %d", resp.StatusCode)
	}

	connected = false
	st = healthStatus{}
	get(t, srv.URL, &st)
	if st.Status != "degraded" {
		t.Fatalf("health without broker: %+v", st)
	}
	if resp := get(t, ready.URL, nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("ready status %d", resp.StatusCode)
	}
}
