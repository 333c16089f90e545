package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

const sensorColumns = `id, name, field_id, kind, state,
	broker_enabled, broker_host, broker_port, broker_topic, broker_user, broker_password, broker_client_id,
	http_enabled, http_url, http_method, http_headers, http_auth_token, http_interval_ms,
	valor_minimo, valor_maximo, valor_actual, ultima_lectura, history, user_id, notify_email, updated_at`

// UpsertSensor salva la configurazione del sensore.
// La cache (valor_actual, ultima_lectura, history) è gestita solo da AppendReading.
func (s *SQLStore) UpsertSensor(ctx context.Context, sn entities.Sensor) error {
	headers, err := json.Marshal(sn.HTTP.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	if sn.HTTP.Headers == nil {
		headers = []byte("{}")
	}
	if sn.UpdatedAt.IsZero() {
		sn.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO sensors (`+sensorColumns+`)
		VALUES (?,?,?,?,?, ?,?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,NULL,NULL,'[]',?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, field_id = excluded.field_id, kind = excluded.kind, state = excluded.state,
			broker_enabled = excluded.broker_enabled, broker_host = excluded.broker_host,
			broker_port = excluded.broker_port, broker_topic = excluded.broker_topic,
			broker_user = excluded.broker_user, broker_password = excluded.broker_password,
			broker_client_id = excluded.broker_client_id,
			http_enabled = excluded.http_enabled, http_url = excluded.http_url, http_method = excluded.http_method,
			http_headers = excluded.http_headers, http_auth_token = excluded.http_auth_token,
			http_interval_ms = excluded.http_interval_ms,
			valor_minimo = excluded.valor_minimo, valor_maximo = excluded.valor_maximo,
			user_id = excluded.user_id, notify_email = excluded.notify_email, updated_at = excluded.updated_at`),
		sn.ID, sn.Name, sn.FieldID, string(sn.Kind), string(sn.State),
		sn.Broker.Enabled, sn.Broker.Host, sn.Broker.Port, sn.Broker.Topic, sn.Broker.User, sn.Broker.Password, sn.Broker.ClientID,
		sn.HTTP.Enabled, sn.HTTP.URL, sn.HTTP.Method, string(headers), sn.HTTP.AuthToken, sn.HTTP.Interval.Milliseconds(),
		nullFloat(sn.ValorMinimo), nullFloat(sn.ValorMaximo),
		sn.UserID, sn.NotifyEmail, formatTS(sn.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert sensor %s: %w", sn.ID, err)
	}
	return nil
}

func (s *SQLStore) GetSensor(ctx context.Context, id string) (entities.Sensor, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sensorColumns+` FROM sensors WHERE id = ?`), id)
	sn, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.Sensor{}, fmt.Errorf("sensor %s: %w", id, ErrNotFound)
	}
	return sn, err
}

func (s *SQLStore) ListSensors(ctx context.Context) ([]entities.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]entities.Sensor, 0)
	for rows.Next() {
		sn, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetSensorState(ctx context.Context, id string, state entities.SensorState) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE sensors SET state = ?, updated_at = ? WHERE id = ?`),
		string(state), formatTS(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOne(res, "sensor "+id)
}

func (s *SQLStore) DeleteSensor(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM sensors WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectOne(res, "sensor "+id)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(r rowScanner) (entities.Sensor, error) {
	var (
		sn                        entities.Sensor
		kind, state               string
		headers, history, updated string
		intervalMs                int64
		vmin, vmax, vact          sql.NullFloat64
		ultima                    sql.NullString
	)
	err := r.Scan(&sn.ID, &sn.Name, &sn.FieldID, &kind, &state,
		&sn.Broker.Enabled, &sn.Broker.Host, &sn.Broker.Port, &sn.Broker.Topic, &sn.Broker.User, &sn.Broker.Password, &sn.Broker.ClientID,
		&sn.HTTP.Enabled, &sn.HTTP.URL, &sn.HTTP.Method, &headers, &sn.HTTP.AuthToken, &intervalMs,
		&vmin, &vmax, &vact, &ultima, &history, &sn.UserID, &sn.NotifyEmail, &updated)
	if err != nil {
		return entities.Sensor{}, err
	}
	sn.Kind = entities.SensorKind(kind)
	sn.State = entities.SensorState(state)
	sn.HTTP.Interval = time.Duration(intervalMs) * time.Millisecond
	sn.ValorMinimo, sn.ValorMaximo, sn.ValorActual = floatPtr(vmin), floatPtr(vmax), floatPtr(vact)
	if headers != "" && headers != "{}" {
		if err := json.Unmarshal([]byte(headers), &sn.HTTP.Headers); err != nil {
			return entities.Sensor{}, fmt.Errorf("decode headers of %s: %w", sn.ID, err)
		}
	}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &sn.History); err != nil {
			return entities.Sensor{}, fmt.Errorf("decode history of %s: %w", sn.ID, err)
		}
	}
	if ultima.Valid && ultima.String != "" {
		t, err := parseTS(ultima.String)
		if err != nil {
			return entities.Sensor{}, err
		}
		sn.UltimaLectura = &t
	}
	if t, err := parseTS(updated); err == nil {
		sn.UpdatedAt = t
	}
	return sn, nil
}
