// Package storage persiste sensori, letture e alert su database/sql.
// Driver supportati: "sqlite" (modernc.org/sqlite, default) e "pgx" (PostgreSQL via jackc/pgx).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// tsLayout ha larghezza fissa: l'ordinamento lessicografico coincide con quello temporale.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	if t, err := time.Parse(tsLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

const schema = `
CREATE TABLE IF NOT EXISTS sensors (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	field_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	broker_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	broker_host TEXT NOT NULL DEFAULT '',
	broker_port INTEGER NOT NULL DEFAULT 0,
	broker_topic TEXT NOT NULL DEFAULT '',
	broker_user TEXT NOT NULL DEFAULT '',
	broker_password TEXT NOT NULL DEFAULT '',
	broker_client_id TEXT NOT NULL DEFAULT '',
	http_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	http_url TEXT NOT NULL DEFAULT '',
	http_method TEXT NOT NULL DEFAULT '',
	http_headers TEXT NOT NULL DEFAULT '{}',
	http_auth_token TEXT NOT NULL DEFAULT '',
	http_interval_ms BIGINT NOT NULL DEFAULT 0,
	valor_minimo DOUBLE PRECISION,
	valor_maximo DOUBLE PRECISION,
	valor_actual DOUBLE PRECISION,
	ultima_lectura TEXT,
	history TEXT NOT NULL DEFAULT '[]',
	user_id TEXT NOT NULL DEFAULT '',
	notify_email TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS readings (
	id TEXT PRIMARY KEY,
	sensor_id TEXT,
	topic TEXT NOT NULL,
	ts TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	observation TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings (sensor_id, ts);
CREATE INDEX IF NOT EXISTS idx_readings_topic_ts ON readings (topic, ts);
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	description TEXT NOT NULL,
	alert_date TEXT NOT NULL,
	alert_time TEXT NOT NULL,
	leida BOOLEAN NOT NULL DEFAULT FALSE,
	enviada_email BOOLEAN NOT NULL DEFAULT FALSE,
	extra_data TEXT NOT NULL DEFAULT '{}',
	sensor_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_sensor_created ON alerts (sensor_id, created_at);
`

// SQLStore implementa i repository di sensori, letture e alert.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open apre il database e applica lo schema.
func Open(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	s := &SQLStore{db: db, driver: driver}

	if driver == "sqlite" {
		// una sola connessione: le scritture sqlite sono comunque serializzate
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;"} {
			if _, err := db.Exec(p); err != nil {
				log.Println("storage: warning: could not apply", p, err)
			}
		}
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

// q adatta i placeholder "?" al dialetto del driver ($1, $2, ... per PostgreSQL).
func (s *SQLStore) q(query string) string {
	if s.driver != "pgx" {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
