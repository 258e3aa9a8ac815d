package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
	telemetrypostgres "hisens-cloud/internal/telemetry/infrastructure/postgres"
)

func TestTelemetryQuery_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "lecturas") {
		t.Skip("lecturas missing; run migrations")
	}

	ctx := context.Background()
	nodeID := "it-node"
	sensorID := "it-sensor"
	cleanup := func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM lecturas WHERE id_sensor = $1", sensorID)
		_, _ = db.ExecContext(ctx, "DELETE FROM sensores WHERE id = $1", sensorID)
		_, _ = db.ExecContext(ctx, "DELETE FROM nodos WHERE id = $1", nodeID)
	}
	cleanup()
	defer cleanup()

	uow, err := telemetrypostgres.NewUnitOfWork(db)
	if err != nil {
		t.Fatalf("uow: %v", err)
	}
	start := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)

	err = uow.Do(ctx, func(repos application.Repositories) error {
		if err := repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode(nodeID, nil)); err != nil {
			return err
		}
		if err := repos.Sensors.Create(ctx, telemetry.NewDiscoveredSensor(sensorID, nodeID)); err != nil {
			return err
		}
		for i, value := range []float64{10, 20} {
			reading := telemetry.Reading{SensorID: sensorID, Value: value, TS: start.Add(time.Duration(i) * time.Second)}
			if _, err := repos.Readings.Insert(ctx, reading); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = uow.Do(ctx, func(repos application.Repositories) error {
		return repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode(nodeID, nil))
	})
	if err == nil {
		t.Fatalf("expected conflict on duplicate node")
	}

	query := telemetrypostgres.NewTelemetryQuery(db)
	latest, err := query.LatestReadings(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	found := false
	for _, reading := range latest {
		if reading.SensorID == sensorID {
			found = true
			if reading.Value != 20 {
				t.Fatalf("latest value mismatch: got=%v want=20", reading.Value)
			}
		}
	}
	if !found {
		t.Fatalf("expected latest reading for %s", sensorID)
	}

	history, err := query.History(ctx, sensorID, start.Add(-time.Second))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Value != 10 {
		t.Fatalf("history mismatch: %+v", history)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
