package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

const (
	DefaultReadingLimit = 100
	MaxReadingLimit     = 1000
)

// ReadingFilter seleziona le letture per la query storica.
type ReadingFilter struct {
	SensorID string
	Topic    string
	Unit     string
	From     time.Time
	To       time.Time
	Desc     bool
	Limit    int
}

// AppendReading inserisce la lettura e aggiorna la cache del sensore nella stessa transazione.
// Senza sensore associato (o se il sensore non esiste più) viene salvata solo la lettura.
func (s *SQLStore) AppendReading(ctx context.Context, r entities.Reading, historyLimit int) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var sensorID sql.NullString
	if r.SensorID != nil {
		sensorID = sql.NullString{String: *r.SensorID, Valid: true}
	}
	if _, err = tx.ExecContext(ctx, s.q(`INSERT INTO readings (id, sensor_id, topic, ts, value, unit, observation)
		VALUES (?,?,?,?,?,?,?)`),
		r.ID, sensorID, r.Topic, formatTS(r.Timestamp), r.Value, r.Unit, r.Observation); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}

	if sensorID.Valid {
		var raw string
		err = tx.QueryRowContext(ctx, s.q(`SELECT history FROM sensors WHERE id = ?`), sensorID.String).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = nil
		case err != nil:
			return fmt.Errorf("load history: %w", err)
		default:
			history, herr := appendHistory(raw, r, historyLimit)
			if herr != nil {
				return herr
			}
			if _, err = tx.ExecContext(ctx, s.q(`UPDATE sensors SET valor_actual = ?, ultima_lectura = ?, history = ? WHERE id = ?`),
				r.Value, formatTS(r.Timestamp), history, sensorID.String); err != nil {
				return fmt.Errorf("update sensor cache: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func appendHistory(raw string, r entities.Reading, limit int) (string, error) {
	if limit <= 0 {
		return "[]", nil
	}
	var h []entities.HistoryPoint
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			// cronologia corrotta: si riparte da zero invece di bloccare le scritture
			h = nil
		}
	}
	h = append(h, entities.HistoryPoint{Value: r.Value, Timestamp: r.Timestamp.UTC()})
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// QueryReadings esegue la query storica con i filtri indicati.
func (s *SQLStore) QueryReadings(ctx context.Context, f ReadingFilter) ([]entities.Reading, error) {
	var (
		where []string
		args  []any
	)
	if f.SensorID != "" {
		where = append(where, "sensor_id = ?")
		args = append(args, f.SensorID)
	}
	if f.Topic != "" {
		where = append(where, "topic = ?")
		args = append(args, f.Topic)
	}
	if f.Unit != "" {
		where = append(where, "unit = ?")
		args = append(args, f.Unit)
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, formatTS(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, formatTS(f.To))
	}
	order := "ASC"
	if f.Desc {
		order = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultReadingLimit
	}
	if limit > MaxReadingLimit {
		limit = MaxReadingLimit
	}

	query := `SELECT id, sensor_id, topic, ts, value, unit, observation FROM readings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY ts %s, id %s LIMIT %d", order, order, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.Reading, 0)
	for rows.Next() {
		var (
			r        entities.Reading
			sensorID sql.NullString
			ts       string
		)
		if err := rows.Scan(&r.ID, &sensorID, &r.Topic, &ts, &r.Value, &r.Unit, &r.Observation); err != nil {
			return nil, err
		}
		if sensorID.Valid {
			id := sensorID.String
			r.SensorID = &id
		}
		if r.Timestamp, err = parseTS(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountReadings conta le letture di un sensore (tutte se sensorID è vuoto).
func (s *SQLStore) CountReadings(ctx context.Context, sensorID string) (int, error) {
	var n int
	var err error
	if sensorID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM readings`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM readings WHERE sensor_id = ?`), sensorID).Scan(&n)
	}
	return n, err
}
