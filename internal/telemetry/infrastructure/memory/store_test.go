package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Do(ctx, func(repos application.Repositories) error {
		require.NoError(t, repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode("N1", nil)))
		require.NoError(t, repos.Events.Record(ctx, audit.Event{Type: audit.TypeNodeDetected}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, store.Events())
}

func TestStoreEnforcesKeys(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Do(ctx, func(repos application.Repositories) error {
		if err := repos.Sensors.Create(ctx, telemetry.NewDiscoveredSensor("S1", "N1")); !errors.Is(err, telemetry.ErrNotFound) {
			return errors.New("expected missing node")
		}
		if err := repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode("N1", nil)); err != nil {
			return err
		}
		if err := repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode("N1", nil)); !errors.Is(err, telemetry.ErrConflict) {
			return errors.New("expected conflict")
		}
		return repos.Sensors.Create(ctx, telemetry.NewDiscoveredSensor("S1", "N1"))
	})
	require.NoError(t, err)

	sensors, err := store.ListSensors(ctx)
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.False(t, sensors[0].Visible)
}

func TestStoreLatestAndHistory(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	err := store.Do(ctx, func(repos application.Repositories) error {
		if err := repos.Nodes.Create(ctx, telemetry.NewDiscoveredNode("N1", nil)); err != nil {
			return err
		}
		if err := repos.Sensors.Create(ctx, telemetry.NewDiscoveredSensor("S1", "N1")); err != nil {
			return err
		}
		for _, reading := range []telemetry.Reading{
			{SensorID: "S1", Value: 1, TS: base},
			{SensorID: "S1", Value: 2, TS: base.Add(time.Minute)},
			{SensorID: "S1", Value: 3, TS: base.Add(time.Minute)},
		} {
			if _, err := repos.Readings.Insert(ctx, reading); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	latest, err := store.LatestReadings(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 3.0, latest[0].Value)

	history, err := store.History(ctx, "S1", base.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2.0, history[0].Value)
}
