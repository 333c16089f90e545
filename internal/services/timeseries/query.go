package timeseries

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/agro_telemetry/internal/model/entities"
	"github.com/LeonardoBeccarini/agro_telemetry/internal/storage"
)

// Querier legge la cronologia delle letture da InfluxDB.
type Querier struct {
	client      influxdb2.Client
	org         string
	bucket      string
	measurement string
}

func NewQuerier(client influxdb2.Client, org, bucket, measurement string) *Querier {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	return &Querier{client: client, org: org, bucket: bucket, measurement: sanitizeMeasurement(measurement)}
}

// fluxEscaper produce il contenuto di un letterale stringa Flux; anche $ va protetto,
// altrimenti "${...}" verrebbe interpolato.
var fluxEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

func buildFlux(bucket, measurement string, f storage.ReadingFilter, now time.Time) string {
	start := f.From
	if start.IsZero() {
		start = now.Add(-24 * time.Hour)
	}
	stop := f.To
	if stop.IsZero() {
		stop = now.Add(time.Second)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = storage.DefaultReadingLimit
	}
	if limit > storage.MaxReadingLimit {
		limit = storage.MaxReadingLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start.UTC().Format(time.RFC3339Nano), stop.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s and r._field == \"value\")\n", fluxString(measurement))
	if f.SensorID != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.sensor_id == %s)\n", fluxString(f.SensorID))
	}
	if f.Topic != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.topic == %s)\n", fluxString(f.Topic))
	}
	if f.Unit != "" {
		fmt.Fprintf(&b, "  |> filter(fn: (r) => r.unit == %s)\n", fluxString(f.Unit))
	}
	b.WriteString("  |> group()\n")
	fmt.Fprintf(&b, "  |> sort(columns: [\"_time\"], desc: %t)\n", f.Desc)
	fmt.Fprintf(&b, "  |> limit(n: %d)\n", limit)
	return b.String()
}

// QueryReadings esegue la query Flux e ricostruisce le letture (senza id né observation).
func (q *Querier) QueryReadings(ctx context.Context, f storage.ReadingFilter) ([]entities.Reading, error) {
	res, err := q.client.QueryAPI(q.org).Query(ctx, buildFlux(q.bucket, q.measurement, f, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	out := make([]entities.Reading, 0)
	for res.Next() {
		rec := res.Record()
		r := entities.Reading{Timestamp: rec.Time().UTC()}

		switch v := rec.Value().(type) {
		case float64:
			r.Value = v
		case int64:
			r.Value = float64(v)
		case string:
			if fv, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				r.Value = fv
			}
		}
		if s, ok := rec.ValueByKey("topic").(string); ok {
			r.Topic = s
		}
		if s, ok := rec.ValueByKey("unit").(string); ok {
			r.Unit = s
		}
		if s, ok := rec.ValueByKey("sensor_id").(string); ok && strings.TrimSpace(s) != "" {
			id := s
			r.SensorID = &id
		}
		out = append(out, r)
	}
	if res.Err() != nil {
		return out, fmt.Errorf("influx iterate: %w", res.Err())
	}
	return out, nil
}
