package audit

import (
	"context"
	"time"
)

// Event types written to the event log.
const (
	TypeLoginSucceeded = "LOGIN_EXITOSO"
	TypeLoginFailed    = "LOGIN_FALLIDO"

	TypeAlarmHigh = "ALARMA_ALTA"
	TypeAlarmLow  = "ALARMA_BAJA"

	TypeDisconnected = "DESCONECTADO"
	TypeReconnected  = "RECONECTADO"

	TypeNodeDetected   = "NODO_DETECTADO"
	TypeSensorDetected = "SENSOR_DETECTADO"
	TypeNodeReplaced   = "REEMPLAZO_NODO"
	TypeNodeCreated    = "CREAR_NODO"
	TypeNodeEdited     = "EDITAR_NODO"
	TypeSensorCreated  = "CREAR_SENSOR"
	TypeLimitChanged   = "CAMBIO_LIMITE"
	TypeConfigChanged  = "CAMBIO_CONFIG"
)

// SystemActor attributes events raised by the platform itself.
const SystemActor = "Sistema"

// Event is an immutable entry in the event log.
type Event struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Type     string    `json:"tipo_evento"`
	Username string    `json:"username,omitempty"`
	SensorID string    `json:"id_sensor,omitempty"`
	Detail   string    `json:"detalle"`
}

// Recorder appends events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Category is a post hoc bucket over event types.
type Category string

const (
	CategoryAccess     Category = "accesos"
	CategoryAudit      Category = "auditoria"
	CategoryAlarm      Category = "alarmas"
	CategoryConnection Category = "conexiones"
)

var categoryTypes = map[Category][]string{
	CategoryAccess:     {TypeLoginSucceeded, TypeLoginFailed},
	CategoryAlarm:      {TypeAlarmHigh, TypeAlarmLow},
	CategoryConnection: {TypeDisconnected, TypeReconnected},
}

// ParseCategory validates a category name.
func ParseCategory(value string) (Category, bool) {
	switch Category(value) {
	case CategoryAccess, CategoryAudit, CategoryAlarm, CategoryConnection:
		return Category(value), true
	default:
		return "", false
	}
}

// Types lists the event types of an explicit category. The audit bucket is
// everything else and has no explicit list.
func (c Category) Types() []string {
	return append([]string(nil), categoryTypes[c]...)
}

// excludedFromAudit lists every type owned by an explicit category.
func excludedFromAudit() []string {
	out := make([]string, 0, 6)
	for _, c := range []Category{CategoryAccess, CategoryAlarm, CategoryConnection} {
		out = append(out, categoryTypes[c]...)
	}
	return out
}

// CategoryOf buckets an event type.
func CategoryOf(eventType string) Category {
	for category, types := range categoryTypes {
		for _, t := range types {
			if t == eventType {
				return category
			}
		}
	}
	return CategoryAudit
}

// DefaultListLimit caps log queries.
const DefaultListLimit = 200

// Filter narrows a log query. To is exclusive.
type Filter struct {
	Category Category
	From     *time.Time
	To       *time.Time
	Username string
	SensorID string
	Limit    int
}
