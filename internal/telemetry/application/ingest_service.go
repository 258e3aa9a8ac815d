package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "hisens-cloud/internal/alarms/domain"
	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/observability/metrics"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

const defaultMaxAttempts = 3

// IngestCommand is one validated reading from a device.
type IngestCommand struct {
	NodeID   string
	SensorID string
	Value    float64
	Battery  *int
}

// Validate rejects malformed commands before anything is persisted.
func (c IngestCommand) Validate() error {
	if err := telemetry.ValidateReading(c.NodeID, c.SensorID, c.Value); err != nil {
		return err
	}
	if c.Battery != nil {
		return telemetry.ValidateBattery(*c.Battery)
	}
	return nil
}

// IngestResult describes what one ingestion changed.
type IngestResult struct {
	ReadingID     int64
	NodeCreated   bool
	SensorCreated bool
	Battery       int
	Evaluation    alarms.Evaluation
}

// IngestService runs the ingestion pipeline: resolve, persist, evaluate,
// then notify and dispatch after commit.
type IngestService struct {
	uow         UnitOfWork
	notifier    ReadingNotifier
	alerts      AlertEnqueuer
	clock       Clock
	logger      *zap.Logger
	maxAttempts int
	newID       func() string
}

// IngestOption customizes the ingestion service.
type IngestOption func(*IngestService)

// WithNotifier assigns the live notifier.
func WithNotifier(notifier ReadingNotifier) IngestOption {
	return func(s *IngestService) {
		s.notifier = notifier
	}
}

// WithAlertEnqueuer assigns the alert dispatcher.
func WithAlertEnqueuer(alerts AlertEnqueuer) IngestOption {
	return func(s *IngestService) {
		s.alerts = alerts
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) IngestOption {
	return func(s *IngestService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) IngestOption {
	return func(s *IngestService) {
		s.logger = logging.OrNop(logger)
	}
}

// WithMaxAttempts bounds transaction retries after an escaped conflict.
func WithMaxAttempts(attempts int) IngestOption {
	return func(s *IngestService) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(fn func() string) IngestOption {
	return func(s *IngestService) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewIngestService constructs the ingestion service.
func NewIngestService(uow UnitOfWork, opts ...IngestOption) (*IngestService, error) {
	if uow == nil {
		return nil, errors.New("ingest: nil unit of work")
	}
	service := &IngestService{
		uow:         uow,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		maxAttempts: defaultMaxAttempts,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest persists one reading. Node and sensor lookup-or-create, the battery
// update, the reading, and any discovery or alarm events commit together or
// not at all. Live notification and alert dispatch run only after commit and
// never fail the call.
func (s *IngestService) Ingest(ctx context.Context, cmd IngestCommand) (IngestResult, error) {
	if s == nil {
		return IngestResult{}, errors.New("ingest: nil service")
	}
	started := time.Now()
	if err := cmd.Validate(); err != nil {
		metrics.IncIngestError("validation")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		return IngestResult{}, err
	}

	var (
		result IngestResult
		sensor telemetry.Sensor
		at     time.Time
		err    error
	)
	for attempt := 1; ; attempt++ {
		at = s.clock.Now().UTC()
		result = IngestResult{}
		err = s.uow.Do(ctx, func(repos Repositories) error {
			var txErr error
			sensor, txErr = s.ingestTx(ctx, repos, cmd, at, &result)
			return txErr
		})
		if err == nil {
			break
		}
		if errors.Is(err, telemetry.ErrConflict) && attempt < s.maxAttempts {
			metrics.IncIngestRetry()
			s.logger.Debug("ingest conflict, retrying",
				zap.String("node_id", cmd.NodeID),
				zap.String("sensor_id", cmd.SensorID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		metrics.IncIngestError("persistence")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(started))
		s.logger.Error("ingest failed",
			zap.String("node_id", cmd.NodeID),
			zap.String("sensor_id", cmd.SensorID),
			zap.Error(err))
		return IngestResult{}, err
	}

	if result.NodeCreated {
		metrics.IncDiscovery(metrics.DiscoveryNode)
		s.logger.Info("node discovered", zap.String("node_id", cmd.NodeID))
	}
	if result.SensorCreated {
		metrics.IncDiscovery(metrics.DiscoverySensor)
		s.logger.Info("sensor discovered", zap.String("sensor_id", cmd.SensorID), zap.String("node_id", cmd.NodeID))
	}

	if s.notifier != nil {
		battery := result.Battery
		s.notifier.NotifyReading(ctx, ReadingUpdate{
			SensorID:  cmd.SensorID,
			Value:     cmd.Value,
			Battery:   &battery,
			Connected: true,
		})
	}

	if result.Evaluation.Alarm() {
		metrics.IncAlarmEvent(result.Evaluation.EventType())
		s.dispatch(sensor, cmd.Value, result.Evaluation, at)
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(started))
	return result, nil
}

func (s *IngestService) ingestTx(ctx context.Context, repos Repositories, cmd IngestCommand, at time.Time, result *IngestResult) (telemetry.Sensor, error) {
	res, err := Resolve(ctx, repos, cmd.NodeID, cmd.SensorID, cmd.Battery, at)
	if err != nil {
		return telemetry.Sensor{}, err
	}
	result.NodeCreated = res.NodeCreated
	result.SensorCreated = res.SensorCreated
	result.Battery = res.Node.Battery

	if cmd.Battery != nil && *cmd.Battery != res.Node.Battery {
		if err := repos.Nodes.UpdateBattery(ctx, res.Node.ID, *cmd.Battery); err != nil {
			return telemetry.Sensor{}, err
		}
		result.Battery = *cmd.Battery
	}

	readingID, err := repos.Readings.Insert(ctx, telemetry.Reading{
		SensorID: res.Sensor.ID,
		Value:    cmd.Value,
		TS:       at,
	})
	if err != nil {
		return telemetry.Sensor{}, err
	}
	result.ReadingID = readingID

	eval := alarms.Evaluate(res.Sensor, cmd.Value)
	result.Evaluation = eval
	if eval.Alarm() {
		event := audit.Event{
			TS:       at,
			Type:     eval.EventType(),
			SensorID: res.Sensor.ID,
			Detail:   eval.Message,
		}
		if err := repos.Events.Record(ctx, event); err != nil {
			return telemetry.Sensor{}, err
		}
	}
	return res.Sensor, nil
}

func (s *IngestService) dispatch(sensor telemetry.Sensor, value float64, eval alarms.Evaluation, at time.Time) {
	if s.alerts == nil {
		return
	}
	alert, err := alarms.NewAlert(s.newID(), sensor, value, eval, at)
	if err != nil {
		s.logger.Warn("alert build failed", zap.String("sensor_id", sensor.ID), zap.Error(err))
		return
	}
	if !s.alerts.Enqueue(alert) {
		s.logger.Warn("alert dropped",
			zap.String("alert_id", alert.ID),
			zap.String("sensor_id", sensor.ID),
			zap.String("event", alert.EventType),
			zap.Error(alarms.ErrQueueFull))
	}
}
