package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// AlertFilter seleziona gli alert da elencare.
type AlertFilter struct {
	SensorID   string
	UnreadOnly bool
	Limit      int
}

func (s *SQLStore) InsertAlert(ctx context.Context, a entities.Alert) error {
	extra := []byte("{}")
	if len(a.ExtraData) > 0 {
		b, err := json.Marshal(a.ExtraData)
		if err != nil {
			return fmt.Errorf("encode extra data: %w", err)
		}
		extra = b
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO alerts
		(id, type, severity, description, alert_date, alert_time, leida, enviada_email, extra_data, sensor_id, user_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, string(a.Type), string(a.Severity), a.Description, a.Date, a.Time, a.Leida, a.EnviadaEmail,
		string(extra), a.SensorID, a.UserID, formatTS(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// HasOpenAlert è vero se esiste un alert non letto del sensore creato da since in poi.
func (s *SQLStore) HasOpenAlert(ctx context.Context, sensorID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM alerts WHERE sensor_id = ? AND leida = ? AND created_at >= ?`),
		sensorID, false, formatTS(since)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) MarkAlertEmailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE alerts SET enviada_email = ? WHERE id = ?`), true, id)
	if err != nil {
		return err
	}
	return expectOne(res, "alert "+id)
}

func (s *SQLStore) MarkAlertRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE alerts SET leida = ? WHERE id = ?`), true, id)
	if err != nil {
		return err
	}
	return expectOne(res, "alert "+id)
}

func (s *SQLStore) ListAlerts(ctx context.Context, f AlertFilter) ([]entities.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.SensorID != "" {
		where = append(where, "sensor_id = ?")
		args = append(args, f.SensorID)
	}
	if f.UnreadOnly {
		where = append(where, "leida = ?")
		args = append(args, false)
	}
	limit := f.Limit
	if limit <= 0 || limit > MaxReadingLimit {
		limit = DefaultReadingLimit
	}
	query := `SELECT id, type, severity, description, alert_date, alert_time, leida, enviada_email,
		extra_data, sensor_id, user_id, created_at FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entities.Alert, 0)
	for rows.Next() {
		var (
			a                 entities.Alert
			typ, sev          string
			extra, createdRaw string
		)
		if err := rows.Scan(&a.ID, &typ, &sev, &a.Description, &a.Date, &a.Time, &a.Leida, &a.EnviadaEmail,
			&extra, &a.SensorID, &a.UserID, &createdRaw); err != nil {
			return nil, err
		}
		a.Type, a.Severity = entities.AlertType(typ), entities.Severity(sev)
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &a.ExtraData); err != nil {
				return nil, fmt.Errorf("decode extra data of %s: %w", a.ID, err)
			}
		}
		if a.CreatedAt, err = parseTS(createdRaw); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
