package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

// LoadSeed legge il file dei sensori e li registra. Formati accettati:
// lista di record oppure mappa campo -> lista ({"field_1":[...]}), con alias dei nomi.
func (r *Registry) LoadSeed(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	sensors, err := parseSeed(raw)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", path, err)
	}
	for _, s := range sensors {
		if _, err := r.Upsert(ctx, s); err != nil {
			return 0, err
		}
	}
	return len(sensors), nil
}

func parseSeed(raw []byte) ([]entities.Sensor, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return decodeAll("", list)
	}
	// leggo come map[string][]map[string]any così posso gestire alias dei campi
	var grouped map[string][]map[string]any
	if err := json.Unmarshal(raw, &grouped); err != nil {
		return nil, err
	}
	groups := make([]string, 0, len(grouped))
	for g := range grouped {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	var out []entities.Sensor
	for _, g := range groups {
		ss, err := decodeAll(g, grouped[g])
		if err != nil {
			return nil, err
		}
		out = append(out, ss...)
	}
	return out, nil
}

func decodeAll(group string, recs []map[string]any) ([]entities.Sensor, error) {
	out := make([]entities.Sensor, 0, len(recs))
	for i, rec := range recs {
		s, err := decodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if s.FieldID == "" {
			s.FieldID = group
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeRecord(rec map[string]any) (entities.Sensor, error) {
	var s entities.Sensor
	s.ID = str(rec, "id", "sensor_id", "sensorId")
	if s.ID == "" {
		return s, fmt.Errorf("%w: sensor without id", ErrInvalidSensor)
	}
	s.Name = str(rec, "name", "nombre")
	s.FieldID = str(rec, "field_id", "fieldId", "field")
	s.UserID = str(rec, "user_id", "userId", "usuario_id")
	s.NotifyEmail = str(rec, "notify_email", "email")

	kindRaw := str(rec, "kind", "type", "tipo")
	k, ok := entities.ParseKind(kindRaw)
	if !ok {
		return s, fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidSensor, s.ID, kindRaw)
	}
	s.Kind = k

	switch strings.ToLower(str(rec, "state", "estado")) {
	case "disabled", "inactive", "inactivo", "off":
		s.State = entities.StateDisabled
	default:
		s.State = entities.StateEnabled
	}

	if v, ok := num(rec, "valor_minimo", "min", "threshold_min"); ok {
		s.ValorMinimo = &v
	}
	if v, ok := num(rec, "valor_maximo", "max", "threshold_max"); ok {
		s.ValorMaximo = &v
	}

	broker, _ := rec["broker"].(map[string]any)
	if broker == nil {
		broker = rec
	}
	s.Broker.Topic = str(broker, "topic", "mqtt_topic", "broker_topic")
	s.Broker.Host = str(broker, "host", "broker_host")
	if p, ok := num(broker, "port", "broker_port"); ok {
		s.Broker.Port = int(p)
	}
	s.Broker.User = str(broker, "user", "username", "broker_user")
	s.Broker.Password = str(broker, "password", "broker_password")
	s.Broker.ClientID = str(broker, "client_id", "clientId")

	httpRec, _ := rec["http"].(map[string]any)
	if httpRec == nil {
		httpRec = rec
	}
	s.HTTP.URL = str(httpRec, "url", "http_url", "endpoint")
	s.HTTP.Method = str(httpRec, "method", "http_method")
	s.HTTP.AuthToken = str(httpRec, "auth_token", "token")
	if h, ok := httpRec["headers"].(map[string]any); ok {
		s.HTTP.Headers = make(map[string]string, len(h))
		for k, v := range h {
			s.HTTP.Headers[k] = fmt.Sprint(v)
		}
	}
	for _, k := range []string{"interval", "interval_s", "poll_interval"} {
		if v, ok := httpRec[k]; ok {
			d, err := entities.ParseInterval(v)
			if err != nil {
				return s, fmt.Errorf("%w: %s: %v", ErrInvalidSensor, s.ID, err)
			}
			s.HTTP.Interval = d
			break
		}
	}

	// sorgente esplicita, altrimenti dedotta dai parametri presenti
	switch strings.ToLower(str(rec, "source", "mode")) {
	case "broker", "mqtt":
		s.Broker.Enabled = true
	case "http", "poll", "polling":
		s.HTTP.Enabled = true
	case "none":
	default:
		if s.Broker.Topic != "" {
			s.Broker.Enabled = true
		} else if s.HTTP.URL != "" {
			s.HTTP.Enabled = true
		}
	}
	return s, nil
}

func str(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// num accetta numeri e stringhe con la virgola decimale.
func num(rec map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch t := rec[k].(type) {
		case float64:
			return t, true
		case string:
			if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
