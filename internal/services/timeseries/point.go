package timeseries

import (
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
)

const DefaultMeasurement = "sensor_reading"

// ReadingToPoint converte una lettura in un *write.Point per InfluxDB.
func ReadingToPoint(measurement string, r entities.Reading) *write.Point {
	if strings.TrimSpace(measurement) == "" {
		measurement = DefaultMeasurement
	}
	tags := map[string]string{
		"topic": r.Topic,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	if r.SensorID != nil && *r.SensorID != "" {
		tags["sensor_id"] = *r.SensorID
	}
	fields := map[string]interface{}{
		"value": r.Value,
	}
	if r.Observation != "" {
		fields["observation"] = r.Observation
	}
	return influxdb2.NewPoint(sanitizeMeasurement(measurement), tags, fields, r.Timestamp)
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
