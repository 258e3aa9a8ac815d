package telemetry

import (
	"fmt"
	"strings"
)

// Sentinels used for hardware that reported in before an operator placed it.
const (
	AreaPending       = "Pendiente"
	AddressUnassigned = "Sin asignar"
	FloorUnassigned   = "-"

	DefaultBattery = 100
	MaxBattery     = 100
)

// Node is a physical device hosting one or more sensors.
type Node struct {
	ID      string
	Area    string
	Address string
	Floor   string
	Battery int
}

// NewDiscoveredNode builds the record stored the first time a node id reports.
func NewDiscoveredNode(id string, batteryHint *int) Node {
	battery := DefaultBattery
	if batteryHint != nil {
		battery = *batteryHint
	}
	return Node{
		ID:      id,
		Area:    AreaPending,
		Address: AddressUnassigned,
		Floor:   FloorUnassigned,
		Battery: battery,
	}
}

// Pending reports whether the node still waits for an operator to place it.
func (n Node) Pending() bool {
	return n.Area == AreaPending
}

// Validate checks node invariants.
func (n Node) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: empty node id", ErrValidation)
	}
	if strings.TrimSpace(n.Area) == "" {
		return fmt.Errorf("%w: empty area", ErrValidation)
	}
	return ValidateBattery(n.Battery)
}

// Location is the operator-managed placement of a node.
type Location struct {
	Area    string `json:"area"`
	Address string `json:"direccion"`
	Floor   string `json:"piso"`
}

// Validate checks location fields. Operators may not place a node in the pending area.
func (l Location) Validate() error {
	area := strings.TrimSpace(l.Area)
	if area == "" {
		return fmt.Errorf("%w: empty area", ErrValidation)
	}
	if area == AreaPending {
		return fmt.Errorf("%w: area %q is reserved", ErrValidation, AreaPending)
	}
	return nil
}

// ValidateBattery checks the 0..100 battery gauge.
func ValidateBattery(level int) error {
	if level < 0 || level > MaxBattery {
		return fmt.Errorf("%w: battery %d outside 0..%d", ErrValidation, level, MaxBattery)
	}
	return nil
}
