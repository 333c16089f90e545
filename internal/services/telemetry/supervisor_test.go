package telemetry

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

type listSource struct {
	mu    sync.Mutex
	list  []entities.Sensor
	calls int
}

func (l *listSource) List(context.Context) ([]entities.Sensor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return append([]entities.Sensor(nil), l.list...), nil
}

func (l *listSource) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeBroker struct {
	mu     sync.Mutex
	active map[string]bool
	subs   []string
	unsubs []string
}

func (b *fakeBroker) Subscribe(s entities.Sensor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[s.ID] = true
	b.subs = append(b.subs, s.ID)
	return nil
}

func (b *fakeBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, id)
	b.unsubs = append(b.unsubs, id)
	return nil
}

func (b *fakeBroker) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.active))
	for id := range b.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakePoll struct {
	mu      sync.Mutex
	running map[string]bool
	stopped []string
}

func (p *fakePoll) Start(_ context.Context, s entities.Sensor) {
	p.mu.Lock()
	p.running[s.ID] = true
	p.mu.Unlock()
}

func (p *fakePoll) Stop(id string) {
	p.mu.Lock()
	delete(p.running, id)
	p.stopped = append(p.stopped, id)
	p.mu.Unlock()
}

func (p *fakePoll) Running() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.running))
	for id := range p.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func TestReconcile(t *testing.T) {
	src := &listSource{list: []entities.Sensor{
		{ID: "b1", State: entities.StateEnabled, Broker: entities.BrokerConfig{Enabled: true, Topic: "sensors/b1"}},
		{ID: "h1", State: entities.StateEnabled, HTTP: entities.HTTPConfig{Enabled: true, URL: "http://dev/h1"}},
		{ID: "off", State: entities.StateDisabled, Broker: entities.BrokerConfig{Enabled: true, Topic: "sensors/off"}},
	}}
	broker := &fakeBroker{active: map[string]bool{"old": true, "off": true}}
	poll := &fakePoll{running: map[string]bool{"gone": true}}

	s := NewSupervisor(src, broker, poll, time.Hour)
	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := broker.Active(); len(got) != 1 || got[0] != "b1" {
		t.Fatalf("broker active = %v", got)
	}
	if got := poll.Running(); len(got) != 1 || got[0] != "h1" {
		t.Fatalf("poll running = %v", got)
	}
	sort.Strings(broker.unsubs)
	if len(broker.unsubs) != 2 || broker.unsubs[0] != "off" || broker.unsubs[1] != "old" {
		t.Fatalf("unsubscribed = %v", broker.unsubs)
	}
	if len(poll.stopped) != 1 || poll.stopped[0] != "gone" {
		t.Fatalf("stopped = %v", poll.stopped)
	}
}

func TestSupervisorReactsToNotify(t *testing.T) {
	src := &listSource{}
	broker := &fakeBroker{active: map[string]bool{}}
	poll := &fakePoll{running: map[string]bool{}}
	s := NewSupervisor(src, broker, poll, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return src.callCount() >= 1 })

	src.mu.Lock()
	src.list = []entities.Sensor{{ID: "n1", State: entities.StateEnabled, Broker: entities.BrokerConfig{Enabled: true, Topic: "t/n1"}}}
	src.mu.Unlock()
	s.Notify("n1")
	s.Notify("n1") // non blocca anche se una notifica è già in attesa

	waitFor(t, func() bool { return len(broker.Active()) == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
