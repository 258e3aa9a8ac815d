package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hisens-cloud/internal/audit"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Resolution is the outcome of resolving the node and sensor of a reading.
type Resolution struct {
	Node          telemetry.Node
	Sensor        telemetry.Sensor
	NodeCreated   bool
	SensorCreated bool
}

// Resolve returns the node and sensor a reading refers to, creating pending
// placeholders for unseen ids and recording one discovery event per record
// created. The node is always resolved before the sensor that references it.
//
// A create that loses a race to another transaction re-reads the winner's
// record. If the winner is still not visible, telemetry.ErrConflict escapes
// and the caller retries the whole transaction.
func Resolve(ctx context.Context, repos Repositories, nodeID, sensorID string, batteryHint *int, at time.Time) (Resolution, error) {
	var res Resolution

	node, created, err := resolveNode(ctx, repos.Nodes, nodeID, batteryHint)
	if err != nil {
		return res, err
	}
	res.Node, res.NodeCreated = node, created
	if created {
		event := audit.Event{
			TS:       at,
			Type:     audit.TypeNodeDetected,
			Username: audit.SystemActor,
			Detail:   fmt.Sprintf("Nuevo hardware detectado: %s", node.ID),
		}
		if err := repos.Events.Record(ctx, event); err != nil {
			return res, err
		}
	}

	sensor, created, err := resolveSensor(ctx, repos.Sensors, sensorID, node.ID)
	if err != nil {
		return res, err
	}
	res.Sensor, res.SensorCreated = sensor, created
	if created {
		event := audit.Event{
			TS:       at,
			Type:     audit.TypeSensorDetected,
			Username: audit.SystemActor,
			SensorID: sensor.ID,
			Detail:   fmt.Sprintf("Nuevo sensor %s en %s", sensor.ID, node.ID),
		}
		if err := repos.Events.Record(ctx, event); err != nil {
			return res, err
		}
	}
	return res, nil
}

func resolveNode(ctx context.Context, nodes telemetry.NodeRepository, id string, batteryHint *int) (telemetry.Node, bool, error) {
	existing, err := nodes.Get(ctx, id)
	if err != nil {
		return telemetry.Node{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	candidate := telemetry.NewDiscoveredNode(id, batteryHint)
	err = nodes.Create(ctx, candidate)
	if err == nil {
		return candidate, true, nil
	}
	if !errors.Is(err, telemetry.ErrConflict) {
		return telemetry.Node{}, false, err
	}

	existing, err = nodes.Get(ctx, id)
	if err != nil {
		return telemetry.Node{}, false, err
	}
	if existing == nil {
		return telemetry.Node{}, false, fmt.Errorf("%w: node %s not visible after conflict", telemetry.ErrConflict, id)
	}
	return *existing, false, nil
}

func resolveSensor(ctx context.Context, sensors telemetry.SensorRepository, id, nodeID string) (telemetry.Sensor, bool, error) {
	existing, err := sensors.Get(ctx, id)
	if err != nil {
		return telemetry.Sensor{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	candidate := telemetry.NewDiscoveredSensor(id, nodeID)
	err = sensors.Create(ctx, candidate)
	if err == nil {
		return candidate, true, nil
	}
	if !errors.Is(err, telemetry.ErrConflict) {
		return telemetry.Sensor{}, false, err
	}

	existing, err = sensors.Get(ctx, id)
	if err != nil {
		return telemetry.Sensor{}, false, err
	}
	if existing == nil {
		return telemetry.Sensor{}, false, fmt.Errorf("%w: sensor %s not visible after conflict", telemetry.ErrConflict, id)
	}
	return *existing, false, nil
}
