package alarms

import (
	"errors"
	"time"

	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Alert is a committed threshold breach waiting to be delivered to people.
type Alert struct {
	ID         string
	Kind       Kind
	EventType  string
	SensorID   string
	SensorName string
	NodeID     string
	Unit       string
	Value      float64
	Limit      float64
	Message    string
	At         time.Time
}

// NewAlert builds an alert from an evaluation that breached a limit.
func NewAlert(id string, sensor telemetry.Sensor, value float64, eval Evaluation, at time.Time) (Alert, error) {
	if !eval.Alarm() {
		return Alert{}, errors.New("alarm: evaluation has no breach")
	}
	return Alert{
		ID:         id,
		Kind:       eval.Kind,
		EventType:  eval.EventType(),
		SensorID:   sensor.ID,
		SensorName: sensor.Name,
		NodeID:     sensor.NodeID,
		Unit:       sensor.Unit,
		Value:      value,
		Limit:      eval.Limit,
		Message:    eval.Message,
		At:         at.UTC(),
	}, nil
}
