package application

import (
	"context"
	"time"

	alarms "hisens-cloud/internal/alarms/domain"
	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/settings"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Repositories are the gateways bound to one transaction.
type Repositories struct {
	Nodes    telemetry.NodeRepository
	Sensors  telemetry.SensorRepository
	Readings telemetry.ReadingRepository
	Events   audit.Recorder
}

// UnitOfWork runs fn inside one transaction. A non-nil error from fn rolls
// everything back.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(repos Repositories) error) error
}

// ReadingUpdate is the live message pushed for every accepted reading.
type ReadingUpdate struct {
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
	Battery   *int    `json:"battery"`
	Connected bool    `json:"connected"`
}

// ReadingNotifier pushes accepted readings to live subscribers. It must not block.
type ReadingNotifier interface {
	NotifyReading(ctx context.Context, update ReadingUpdate)
}

// AlertEnqueuer hands committed alarms to the dispatcher. It reports false
// when the alert could not be queued.
type AlertEnqueuer interface {
	Enqueue(alert alarms.Alert) bool
}

// SettingsReader loads runtime settings.
type SettingsReader interface {
	Load(ctx context.Context) (settings.Settings, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
