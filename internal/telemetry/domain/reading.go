package telemetry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Reading is one timestamped value from a sensor. Readings are never deduplicated.
type Reading struct {
	ID       int64
	SensorID string
	Value    float64
	TS       time.Time
}

// SensorStatus is the dashboard view of a sensor's latest reading.
type SensorStatus struct {
	SensorID  string     `json:"id"`
	Value     *float64   `json:"valor"`
	Battery   *int       `json:"bateria"`
	Connected bool       `json:"conectado"`
	LastSeen  *time.Time `json:"ultimo,omitempty"`
}

// ValidateReading checks the identifiers and value of an inbound reading.
func ValidateReading(nodeID, sensorID string, value float64) error {
	if strings.TrimSpace(nodeID) == "" {
		return fmt.Errorf("%w: node_id is required", ErrValidation)
	}
	if strings.TrimSpace(sensorID) == "" {
		return fmt.Errorf("%w: sensor_id is required", ErrValidation)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: value must be a finite number", ErrValidation)
	}
	return nil
}

// NodeRepository persists nodes. Get returns nil, nil when the node is absent.
// Create returns ErrConflict when the id is already taken.
type NodeRepository interface {
	Get(ctx context.Context, id string) (*Node, error)
	Create(ctx context.Context, node Node) error
	UpdateBattery(ctx context.Context, id string, battery int) error
	UpdateLocation(ctx context.Context, id string, location Location) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Node, error)
}

// SensorRepository persists sensors. Get returns nil, nil when the sensor is absent.
// Create returns ErrConflict when the id is already taken.
type SensorRepository interface {
	Get(ctx context.Context, id string) (*Sensor, error)
	Create(ctx context.Context, sensor Sensor) error
	UpdateConfig(ctx context.Context, id string, cfg SensorConfig) error
	ListByNode(ctx context.Context, nodeID string) ([]Sensor, error)
	Reassign(ctx context.Context, fromNodeID, toNodeID string) (int, error)
	Delete(ctx context.Context, id string) error
}

// ReadingRepository appends readings.
type ReadingRepository interface {
	Insert(ctx context.Context, reading Reading) (int64, error)
	DeleteBySensor(ctx context.Context, sensorID string) (int, error)
}

// ReadingQuery serves the dashboard read paths.
type ReadingQuery interface {
	ListNodes(ctx context.Context) ([]Node, error)
	ListSensors(ctx context.Context) ([]Sensor, error)
	LatestReadings(ctx context.Context) ([]Reading, error)
	History(ctx context.Context, sensorID string, since time.Time) ([]Reading, error)
}
