// Package poller interroga periodicamente gli endpoint HTTP dei sensori in modalità polling.
package poller

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/services/normalizer"
)

const maxBody = 1 << 20

type Sink interface {
	Submit(ctx context.Context, n messages.NormalizedReading) error
}

type Config struct {
	DefaultInterval time.Duration
	Timeout         time.Duration
}

type loop struct {
	sensor entities.Sensor
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller mantiene un loop indipendente per sensore: il fallimento di uno non tocca gli altri.
type Poller struct {
	cfg    Config
	client *http.Client
	sink   Sink
	now    func() time.Time

	mu    sync.Mutex
	loops map[string]*loop
}

func New(cfg Config, client *http.Client, sink Sink) *Poller {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Poller{cfg: cfg, client: client, sink: sink, now: time.Now, loops: make(map[string]*loop)}
}

func (p *Poller) interval(s entities.Sensor) time.Duration {
	if s.HTTP.Interval > 0 {
		return s.HTTP.Interval
	}
	return p.cfg.DefaultInterval
}

// requestTimeout = min(timeout configurato, 80% dell'intervallo).
func (p *Poller) requestTimeout(s entities.Sensor) time.Duration {
	t := p.interval(s) * 8 / 10
	if p.cfg.Timeout < t {
		t = p.cfg.Timeout
	}
	return t
}

// Start avvia (o riavvia, se la configurazione è cambiata) il loop del sensore.
// La prima lettura parte subito.
func (p *Poller) Start(ctx context.Context, s entities.Sensor) {
	if !s.PollActive() {
		p.Stop(s.ID)
		return
	}
	p.mu.Lock()
	if l, ok := p.loops[s.ID]; ok {
		if sameSource(l.sensor, s) {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.Stop(s.ID)
		p.mu.Lock()
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &loop{sensor: s, cancel: cancel, done: make(chan struct{})}
	p.loops[s.ID] = l
	n := len(p.loops)
	p.mu.Unlock()
	metrics.ActiveSources.WithLabelValues("http").Set(float64(n))

	log.Printf("poller: start %s every %s (%s %s)", s.ID, p.interval(s), s.HTTP.Method, s.HTTP.URL)
	go p.run(lctx, l)
}

func sameSource(a, b entities.Sensor) bool {
	if a.Kind != b.Kind || a.HTTP.URL != b.HTTP.URL || a.HTTP.Method != b.HTTP.Method ||
		a.HTTP.AuthToken != b.HTTP.AuthToken || a.HTTP.Interval != b.HTTP.Interval ||
		len(a.HTTP.Headers) != len(b.HTTP.Headers) {
		return false
	}
	for k, v := range a.HTTP.Headers {
		if b.HTTP.Headers[k] != v {
			return false
		}
	}
	if (a.ValorMinimo == nil) != (b.ValorMinimo == nil) || (a.ValorMaximo == nil) != (b.ValorMaximo == nil) {
		return false
	}
	if a.ValorMinimo != nil && *a.ValorMinimo != *b.ValorMinimo {
		return false
	}
	return a.ValorMaximo == nil || *a.ValorMaximo == *b.ValorMaximo
}

// Stop ferma il loop del sensore e ne attende la terminazione.
func (p *Poller) Stop(id string) {
	p.mu.Lock()
	l, ok := p.loops[id]
	if ok {
		delete(p.loops, id)
	}
	n := len(p.loops)
	p.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
	metrics.ActiveSources.WithLabelValues("http").Set(float64(n))
	log.Printf("poller: stopped %s", id)
}

func (p *Poller) StopAll() {
	for _, id := range p.Running() {
		p.Stop(id)
	}
}

// Running ritorna gli id dei sensori con loop attivo, ordinati.
func (p *Poller) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.loops))
	for id := range p.loops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Poller) run(ctx context.Context, l *loop) {
	defer close(l.done)
	ticker := time.NewTicker(p.interval(l.sensor))
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx, l.sensor); err != nil && ctx.Err() == nil {
			metrics.PollFailures.WithLabelValues(l.sensor.ID).Inc()
			log.Printf("poller: %s: %v", l.sensor.ID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce esegue una richiesta, normalizza la risposta e la accoda.
func (p *Poller) PollOnce(ctx context.Context, s entities.Sensor) error {
	rctx, cancel := context.WithTimeout(ctx, p.requestTimeout(s))
	defer cancel()

	method := strings.ToUpper(s.HTTP.Method)
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(rctx, method, s.HTTP.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range s.HTTP.Headers {
		req.Header.Set(k, v)
	}
	if s.HTTP.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.HTTP.AuthToken)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	res, err := normalizer.Normalize(s.Kind, body)
	if err != nil {
		metrics.PayloadMalformed.WithLabelValues(string(messages.SourceHTTP)).Inc()
		return err
	}
	sn := s
	return p.sink.Submit(ctx, messages.NormalizedReading{
		Sensor:      &sn,
		Topic:       s.HTTP.URL,
		Value:       res.Value,
		Unit:        res.Unit,
		Observation: res.Observation,
		Timestamp:   p.now(),
		Source:      messages.SourceHTTP,
	})
}
