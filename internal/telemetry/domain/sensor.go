package telemetry

import (
	"fmt"
	"math"
	"strings"
)

const (
	SensorTypeGeneric = "Generico"

	discoveredNamePrefix = "Nuevo "
)

// Sensor is a single measurement channel owned by exactly one node.
type Sensor struct {
	ID        string
	NodeID    string
	Name      string
	Type      string
	Unit      string
	HighLimit *float64
	LowLimit  *float64
	Visible   bool
}

// NewDiscoveredSensor builds a disabled placeholder for an unknown sensor id.
func NewDiscoveredSensor(id, nodeID string) Sensor {
	return Sensor{
		ID:      id,
		NodeID:  nodeID,
		Name:    discoveredNamePrefix + id,
		Type:    SensorTypeGeneric,
		Unit:    "",
		Visible: false,
	}
}

// Validate checks sensor invariants.
func (s Sensor) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty sensor id", ErrValidation)
	}
	if strings.TrimSpace(s.NodeID) == "" {
		return fmt.Errorf("%w: empty node id", ErrValidation)
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty sensor name", ErrValidation)
	}
	return validateLimits(s.HighLimit, s.LowLimit)
}

// SensorConfig is the operator-controlled part of a sensor.
type SensorConfig struct {
	HighLimit *float64 `json:"limite_alto"`
	LowLimit  *float64 `json:"limite_bajo"`
	Visible   bool     `json:"visible"`
}

// Validate checks configured limits are finite numbers.
func (c SensorConfig) Validate() error {
	return validateLimits(c.HighLimit, c.LowLimit)
}

// Apply returns a copy of s carrying the configuration.
func (c SensorConfig) Apply(s Sensor) Sensor {
	s.HighLimit = c.HighLimit
	s.LowLimit = c.LowLimit
	s.Visible = c.Visible
	return s
}

func validateLimits(high, low *float64) error {
	for _, limit := range []*float64{high, low} {
		if limit == nil {
			continue
		}
		if math.IsNaN(*limit) || math.IsInf(*limit, 0) {
			return fmt.Errorf("%w: limit must be a finite number", ErrValidation)
		}
	}
	return nil
}
