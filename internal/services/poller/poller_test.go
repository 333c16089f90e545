package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
)

type sinkSpy struct {
	mu  sync.Mutex
	got []messages.NormalizedReading
}

func (s *sinkSpy) Submit(_ context.Context, n messages.NormalizedReading) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	return nil
}

func (s *sinkSpy) bySensor(id string) []messages.NormalizedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []messages.NormalizedReading
	for _, n := range s.got {
		if n.Sensor != nil && n.Sensor.ID == id {
			out = append(out, n)
		}
	}
	return out
}

func httpSensor(id, url string, interval time.Duration) entities.Sensor {
	return entities.Sensor{ID: id, Kind: entities.KindTemperature, State: entities.StateEnabled,
		HTTP: entities.HTTPConfig{Enabled: true, URL: url, Method: "GET", Interval: interval}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPollOnceSendsAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" || r.Header.Get("X-Device") != "42" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"temperatura":"21,5"}}`))
	}))
	defer srv.Close()

	sink := &sinkSpy{}
	p := New(Config{}, srv.Client(), sink)
	s := httpSensor("t1", srv.URL, time.Minute)
	s.HTTP.Method = "post"
	s.HTTP.AuthToken = "secret"
	s.HTTP.Headers = map[string]string{"X-Device": "42"}

	if err := p.PollOnce(context.Background(), s); err != nil {
		t.Fatalf("poll: %v", err)
	}
	got := sink.bySensor("t1")
	if len(got) != 1 || got[0].Value != 21.5 || got[0].Unit != "°C" || got[0].Source != messages.SourceHTTP || got[0].Topic != srv.URL {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestPollOnceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			_, _ = w.Write([]byte(`{"status":"booting"}`))
		}
	}))
	defer srv.Close()

	p := New(Config{}, srv.Client(), &sinkSpy{})
	if err := p.PollOnce(context.Background(), httpSensor("a", srv.URL+"/down", time.Minute)); err == nil {
		t.Fatalf("expected status error")
	}
	if err := p.PollOnce(context.Background(), httpSensor("b", srv.URL+"/garbage", time.Minute)); !errors.Is(err, normalizer.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestFailingSensorDoesNotAffectOthers(t *testing.T) {
	var badCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			badCalls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`18.25`))
	}))
	defer srv.Close()

	sink := &sinkSpy{}
	p := New(Config{}, srv.Client(), sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, httpSensor("good", srv.URL+"/good", 20*time.Millisecond))
	p.Start(ctx, httpSensor("bad", srv.URL+"/bad", 20*time.Millisecond))

	waitFor(t, func() bool { return len(sink.bySensor("good")) >= 3 && badCalls.Load() >= 3 })
	if got := p.Running(); len(got) != 2 {
		t.Fatalf("running = %v", got)
	}

	p.Stop("bad")
	n := len(sink.bySensor("good"))
	waitFor(t, func() bool { return len(sink.bySensor("good")) > n })
	if got := p.Running(); len(got) != 1 || got[0] != "good" {
		t.Fatalf("running after stop = %v", got)
	}
	p.StopAll()
	if len(p.Running()) != 0 {
		t.Fatalf("loops left after StopAll")
	}
}

func TestFirstFetchIsImmediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"temperature": 20}`))
	}))
	defer srv.Close()

	sink := &sinkSpy{}
	p := New(Config{}, srv.Client(), sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, httpSensor("t", srv.URL, time.Hour))
	waitFor(t, func() bool { return len(sink.bySensor("t")) == 1 })
	p.StopAll()
}

func TestStartRestartsOnChangeAndStopsDisabled(t *testing.T) {
	p := New(Config{}, nil, &sinkSpy{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := httpSensor("t", "http://127.0.0.1:1/unused", time.Hour)
	p.Start(ctx, s)
	first := p.loops["t"]
	p.Start(ctx, s)
	if p.loops["t"] != first {
		t.Fatalf("unchanged sensor restarted")
	}
	s.HTTP.Interval = 2 * time.Hour
	p.Start(ctx, s)
	if p.loops["t"] == first {
		t.Fatalf("changed sensor not restarted")
	}
	s.State = entities.StateDisabled
	p.Start(ctx, s)
	if len(p.Running()) != 0 {
		t.Fatalf("disabled sensor still polled")
	}
}

func TestRequestTimeout(t *testing.T) {
	p := New(Config{Timeout: 10 * time.Second}, nil, nil)
	if got := p.requestTimeout(httpSensor("a", "", 5*time.Second)); got != 4*time.Second {
		t.Fatalf("short interval timeout = %s", got)
	}
	if got := p.requestTimeout(httpSensor("a", "", time.Minute)); got != 10*time.Second {
		t.Fatalf("long interval timeout = %s", got)
	}
}
