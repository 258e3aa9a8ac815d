package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/logging"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// ReplaceResult summarizes a node replacement.
type ReplaceResult struct {
	SensorsMoved       int
	PlaceholdersPurged int
	ReadingsPurged     int
}

// NodeService handles operator changes to nodes and sensors. Every change
// records an audit event in the same transaction.
type NodeService struct {
	uow    UnitOfWork
	clock  Clock
	logger *zap.Logger
}

// NewNodeService constructs a node service.
func NewNodeService(uow UnitOfWork, clock Clock, logger *zap.Logger) (*NodeService, error) {
	if uow == nil {
		return nil, errors.New("nodes: nil unit of work")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &NodeService{uow: uow, clock: clock, logger: logging.OrNop(logger)}, nil
}

// Replace swaps failed hardware oldID for pending hardware newID. The new
// node's auto-discovered sensors and their readings are purged, the old
// node's sensors move over with their history, the location is inherited and
// the old node is deleted.
func (s *NodeService) Replace(ctx context.Context, oldID, newID, actor string) (ReplaceResult, error) {
	oldID, newID = strings.TrimSpace(oldID), strings.TrimSpace(newID)
	if oldID == "" || newID == "" {
		return ReplaceResult{}, fmt.Errorf("%w: id_viejo and id_nuevo are required", telemetry.ErrValidation)
	}
	if oldID == newID {
		return ReplaceResult{}, fmt.Errorf("%w: a node cannot replace itself", telemetry.ErrValidation)
	}

	var result ReplaceResult
	err := s.uow.Do(ctx, func(repos Repositories) error {
		result = ReplaceResult{}
		oldNode, err := repos.Nodes.Get(ctx, oldID)
		if err != nil {
			return err
		}
		newNode, err := repos.Nodes.Get(ctx, newID)
		if err != nil {
			return err
		}
		if oldNode == nil || newNode == nil {
			return fmt.Errorf("%w: node %s or %s", telemetry.ErrNotFound, oldID, newID)
		}
		if !newNode.Pending() {
			return fmt.Errorf("%w: %s is in area %q", telemetry.ErrNodeNotPending, newID, newNode.Area)
		}

		placeholders, err := repos.Sensors.ListByNode(ctx, newID)
		if err != nil {
			return err
		}
		for _, sensor := range placeholders {
			purged, err := repos.Readings.DeleteBySensor(ctx, sensor.ID)
			if err != nil {
				return err
			}
			if err := repos.Sensors.Delete(ctx, sensor.ID); err != nil {
				return err
			}
			result.ReadingsPurged += purged
			result.PlaceholdersPurged++
		}

		moved, err := repos.Sensors.Reassign(ctx, oldID, newID)
		if err != nil {
			return err
		}
		result.SensorsMoved = moved

		location := telemetry.Location{Area: oldNode.Area, Address: oldNode.Address, Floor: oldNode.Floor}
		if err := repos.Nodes.UpdateLocation(ctx, newID, location); err != nil {
			return err
		}
		if err := repos.Nodes.Delete(ctx, oldID); err != nil {
			return err
		}
		return repos.Events.Record(ctx, audit.Event{
			TS:       s.clock.Now().UTC(),
			Type:     audit.TypeNodeReplaced,
			Username: actor,
			Detail:   fmt.Sprintf("Nodo %s reemplazado por %s", oldID, newID),
		})
	})
	if err != nil {
		return ReplaceResult{}, err
	}
	s.logger.Info("node replaced",
		zap.String("old_node_id", oldID),
		zap.String("new_node_id", newID),
		zap.Int("sensors_moved", result.SensorsMoved),
		zap.Int("placeholders_purged", result.PlaceholdersPurged),
		zap.String("actor", actor))
	return result, nil
}

// CreateNode registers a node placed by an operator.
func (s *NodeService) CreateNode(ctx context.Context, id string, location telemetry.Location, actor string) (telemetry.Node, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return telemetry.Node{}, fmt.Errorf("%w: id is required", telemetry.ErrValidation)
	}
	if err := location.Validate(); err != nil {
		return telemetry.Node{}, err
	}
	node := telemetry.Node{
		ID:      id,
		Area:    location.Area,
		Address: location.Address,
		Floor:   location.Floor,
		Battery: telemetry.DefaultBattery,
	}
	err := s.uow.Do(ctx, func(repos Repositories) error {
		if err := repos.Nodes.Create(ctx, node); err != nil {
			return err
		}
		return repos.Events.Record(ctx, audit.Event{
			TS:       s.clock.Now().UTC(),
			Type:     audit.TypeNodeCreated,
			Username: actor,
			Detail:   fmt.Sprintf("Nodo %s creado", id),
		})
	})
	if err != nil {
		return telemetry.Node{}, err
	}
	return node, nil
}

// EditNode moves a node to a new location.
func (s *NodeService) EditNode(ctx context.Context, id string, location telemetry.Location, actor string) (telemetry.Node, error) {
	if err := location.Validate(); err != nil {
		return telemetry.Node{}, err
	}
	var node telemetry.Node
	err := s.uow.Do(ctx, func(repos Repositories) error {
		if err := repos.Nodes.UpdateLocation(ctx, id, location); err != nil {
			return err
		}
		current, err := repos.Nodes.Get(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: node %s", telemetry.ErrNotFound, id)
		}
		node = *current
		return repos.Events.Record(ctx, audit.Event{
			TS:       s.clock.Now().UTC(),
			Type:     audit.TypeNodeEdited,
			Username: actor,
			Detail:   fmt.Sprintf("Nodo %s editado", id),
		})
	})
	if err != nil {
		return telemetry.Node{}, err
	}
	return node, nil
}

// CreateSensor registers a sensor on an existing node.
func (s *NodeService) CreateSensor(ctx context.Context, sensor telemetry.Sensor, actor string) error {
	sensor.ID = strings.TrimSpace(sensor.ID)
	if err := sensor.Validate(); err != nil {
		return err
	}
	return s.uow.Do(ctx, func(repos Repositories) error {
		if err := repos.Sensors.Create(ctx, sensor); err != nil {
			return err
		}
		return repos.Events.Record(ctx, audit.Event{
			TS:       s.clock.Now().UTC(),
			Type:     audit.TypeSensorCreated,
			Username: actor,
			SensorID: sensor.ID,
			Detail:   fmt.Sprintf("Sensor %s creado", sensor.ID),
		})
	})
}

// ConfigureSensor sets limits and visibility. Evaluation starts with the next
// reading of a sensor made visible here.
func (s *NodeService) ConfigureSensor(ctx context.Context, id string, cfg telemetry.SensorConfig, actor string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.uow.Do(ctx, func(repos Repositories) error {
		if err := repos.Sensors.UpdateConfig(ctx, id, cfg); err != nil {
			return err
		}
		return repos.Events.Record(ctx, audit.Event{
			TS:       s.clock.Now().UTC(),
			Type:     audit.TypeLimitChanged,
			Username: actor,
			SensorID: id,
			Detail:   fmt.Sprintf("Sensor %s configurado", id),
		})
	})
}
