// Package lockmap fornisce un mutex per chiave (es. per sensore).
package lockmap

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map serializza le sezioni critiche che condividono la stessa chiave.
// Le entry vengono rimosse quando nessuno le usa più.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquisisce il lock per key e ritorna la funzione di rilascio.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len ritorna il numero di chiavi attualmente in uso.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
