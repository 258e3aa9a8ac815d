package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	telemetry "hisens-cloud/internal/telemetry/domain"
)

// TelemetryQuery serves the dashboard read paths outside any transaction.
type TelemetryQuery struct {
	db     DBTX
	tables tables
}

// NewTelemetryQuery constructs a query with default table names.
func NewTelemetryQuery(db DBTX, opts ...RepositoryOption) *TelemetryQuery {
	return &TelemetryQuery{db: db, tables: buildTables(opts)}
}

// ListNodes returns every node ordered by id.
func (q *TelemetryQuery) ListNodes(ctx context.Context) ([]telemetry.Node, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	return (&NodeRepository{db: q.db, tables: q.tables}).List(ctx)
}

// ListSensors returns every sensor ordered by id.
func (q *TelemetryQuery) ListSensors(ctx context.Context) ([]telemetry.Sensor, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, sensorColumns, q.tables.sensors)
	return querySensors(ctx, q.db, query)
}

// LatestReadings returns the newest reading of every sensor that has one.
// Ties on ts resolve to the highest id, the last one inserted.
func (q *TelemetryQuery) LatestReadings(ctx context.Context) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (id_sensor) id, id_sensor, valor, ts
FROM %s
ORDER BY id_sensor, ts DESC, id DESC`, q.tables.readings)
	return q.queryReadings(ctx, query)
}

// History returns readings of one sensor since the given instant, oldest first.
func (q *TelemetryQuery) History(ctx context.Context, sensorID string, since time.Time) ([]telemetry.Reading, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if sensorID == "" || since.IsZero() {
		return nil, errors.New("telemetry query: invalid arguments")
	}
	query := fmt.Sprintf(`
SELECT id, id_sensor, valor, ts
FROM %s
WHERE id_sensor = $1
	AND ts >= $2
ORDER BY ts ASC, id ASC`, q.tables.readings)
	return q.queryReadings(ctx, query, sensorID, since.UTC())
}

func (q *TelemetryQuery) queryReadings(ctx context.Context, query string, args ...any) ([]telemetry.Reading, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]telemetry.Reading, 0)
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(&reading.ID, &reading.SensorID, &reading.Value, &reading.TS); err != nil {
			return nil, err
		}
		reading.TS = reading.TS.UTC()
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}
