// Package telemetry collega adapter, coda di lavoro e Reading Store e monta la superficie HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/metrics"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/messages"
)

var (
	ErrQueueFull   = errors.New("work queue saturated")
	ErrQueueClosed = errors.New("work queue closed")
)

// Writer è il Reading Store visto dalla coda.
type Writer interface {
	Write(ctx context.Context, n messages.NormalizedReading) (entities.Reading, error)
}

// Queue distribuisce le letture su shard indipendenti: le letture con la stessa chiave
// (sensore o topic) finiscono sempre sullo stesso worker e restano in ordine.
type Queue struct {
	w       Writer
	shards  []chan messages.NormalizedReading
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(w Writer, workers, size int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	q := &Queue{w: w, timeout: timeout, shards: make([]chan messages.NormalizedReading, workers)}
	for i := range q.shards {
		q.shards[i] = make(chan messages.NormalizedReading, size)
	}
	return q
}

// Start avvia un worker per shard. ctx viene passato alle scritture.
func (q *Queue) Start(ctx context.Context) {
	for i, ch := range q.shards {
		q.wg.Add(1)
		go q.worker(ctx, i, ch)
	}
}

func (q *Queue) worker(ctx context.Context, id int, ch <-chan messages.NormalizedReading) {
	defer q.wg.Done()
	for n := range ch {
		wctx := ctx
		if ctx.Err() != nil {
			// in chiusura: si svuota comunque lo shard
			wctx = context.Background()
		}
		if _, err := q.w.Write(wctx, n); err != nil {
			log.Printf("telemetry: worker %d: %s: %v", id, n.Key(), err)
		}
	}
}

func (q *Queue) shardFor(key string) chan messages.NormalizedReading {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

// Submit accoda la lettura; se lo shard resta pieno oltre il timeout (o la deadline di ctx)
// la lettura viene scartata e contata.
func (q *Queue) Submit(ctx context.Context, n messages.NormalizedReading) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	ch := q.shardFor(n.Key())

	select {
	case ch <- n:
		return nil
	default:
	}

	var timer <-chan time.Time
	if q.timeout > 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case ch <- n:
		return nil
	case <-timer:
	case <-ctx.Done():
	}
	metrics.QueueDropped.Inc()
	return fmt.Errorf("%s: %w", n.Key(), ErrQueueFull)
}

// Len ritorna il numero di letture in attesa.
func (q *Queue) Len() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Close rifiuta nuove letture, attende lo svuotamento degli shard e la fine dei worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
