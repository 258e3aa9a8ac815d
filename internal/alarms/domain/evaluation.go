package alarms

import (
	"fmt"
	"strconv"

	"hisens-cloud/internal/audit"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Kind is the outcome of evaluating a reading against sensor limits.
type Kind string

const (
	KindNone Kind = ""
	KindHigh Kind = "high"
	KindLow  Kind = "low"
)

// Event types recorded for threshold breaches.
const (
	EventTypeHigh = audit.TypeAlarmHigh
	EventTypeLow  = audit.TypeAlarmLow
)

// Evaluation is the decision for one reading.
type Evaluation struct {
	Kind    Kind
	Limit   float64
	Message string
}

// Alarm reports whether a limit was breached.
func (e Evaluation) Alarm() bool {
	return e.Kind == KindHigh || e.Kind == KindLow
}

// EventType maps the evaluation to its audit event type, or "" when there is no alarm.
func (e Evaluation) EventType() string {
	switch e.Kind {
	case KindHigh:
		return EventTypeHigh
	case KindLow:
		return EventTypeLow
	default:
		return ""
	}
}

// Evaluate decides HIGH, LOW or none for a reading. Hidden sensors are never evaluated.
// The upper limit is checked first and wins when both are breached.
func Evaluate(sensor telemetry.Sensor, value float64) Evaluation {
	if !sensor.Visible {
		return Evaluation{}
	}
	if sensor.HighLimit != nil && value > *sensor.HighLimit {
		return Evaluation{
			Kind:    KindHigh,
			Limit:   *sensor.HighLimit,
			Message: fmt.Sprintf("Valor %s%s > %s", FormatNumber(value), sensor.Unit, FormatNumber(*sensor.HighLimit)),
		}
	}
	if sensor.LowLimit != nil && value < *sensor.LowLimit {
		return Evaluation{
			Kind:    KindLow,
			Limit:   *sensor.LowLimit,
			Message: fmt.Sprintf("Valor %s%s < %s", FormatNumber(value), sensor.Unit, FormatNumber(*sensor.LowLimit)),
		}
	}
	return Evaluation{}
}

// FormatNumber renders a value with the shortest exact representation.
func FormatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
