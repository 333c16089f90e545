// Package dedup scarta gli id già visti entro una finestra (redelivery QoS1).
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type mark struct {
	id  string
	exp time.Time
}

// Deduper ricorda gli id per ttl; oltre max voci scarta le più vecchie.
type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]time.Time
	order []mark // in ordine di inserimento
	now   func() time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time), now: time.Now}
}

// ShouldProcess è falso se id è già stato visto e non è ancora scaduto.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.prune(now)
	exp := now.Add(d.ttl)
	d.seen[id] = exp
	d.order = append(d.order, mark{id: id, exp: exp})
	return true
}

// ShouldProcessPayload deduplica sull'hash di topic e payload: una redelivery ha lo stesso hash.
func (d *Deduper) ShouldProcessPayload(topic string, payload []byte) bool {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return d.ShouldProcess(hex.EncodeToString(h.Sum(nil)))
}

// Len ritorna il numero di id ricordati.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// prune toglie dalla testa le voci scadute e, se serve, le più vecchie oltre max.
// Una voce in testa può essere obsoleta se l'id è stato reinserito: si cancella
// dalla mappa solo se la scadenza coincide.
func (d *Deduper) prune(now time.Time) {
	i := 0
	for ; i < len(d.order); i++ {
		m := d.order[i]
		if now.Before(m.exp) && len(d.seen) < d.max {
			break
		}
		if exp, ok := d.seen[m.id]; ok && exp.Equal(m.exp) {
			delete(d.seen, m.id)
		}
	}
	if i > 0 {
		d.order = append(d.order[:0], d.order[i:]...)
	}
}
