package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hisens-cloud/internal/settings"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// DefaultHistoryWindow is the history span served when none is requested.
const DefaultHistoryWindow = time.Hour

// MaxHistoryWindow caps requested history spans.
const MaxHistoryWindow = 7 * 24 * time.Hour

// NodeView is a node with its sensors.
type NodeView struct {
	Node    telemetry.Node
	Sensors []telemetry.Sensor
}

// QueryService serves dashboard reads.
type QueryService struct {
	query    telemetry.ReadingQuery
	settings SettingsReader
	clock    Clock
}

// NewQueryService constructs a query service. A nil settings reader uses defaults.
func NewQueryService(query telemetry.ReadingQuery, reader SettingsReader, clock Clock) (*QueryService, error) {
	if query == nil {
		return nil, errors.New("query: nil reading query")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &QueryService{query: query, settings: reader, clock: clock}, nil
}

// Status returns every sensor with its latest value, node battery and
// connectivity. A sensor is connected when its latest reading is younger than
// the configured disconnect timeout.
func (s *QueryService) Status(ctx context.Context) ([]telemetry.SensorStatus, error) {
	timeout := settings.Defaults().DisconnectTimeout()
	if s.settings != nil {
		current, err := s.settings.Load(ctx)
		if err != nil {
			return nil, err
		}
		timeout = current.DisconnectTimeout()
	}

	latest, err := s.query.LatestReadings(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]telemetry.Reading, len(latest))
	for _, reading := range latest {
		byID[reading.SensorID] = reading
	}

	nodes, err := s.query.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	batteries := make(map[string]int, len(nodes))
	for _, node := range nodes {
		batteries[node.ID] = node.Battery
	}

	sensors, err := s.query.ListSensors(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	statuses := make([]telemetry.SensorStatus, 0, len(sensors))
	for _, sensor := range sensors {
		status := telemetry.SensorStatus{SensorID: sensor.ID}
		if battery, ok := batteries[sensor.NodeID]; ok {
			value := battery
			status.Battery = &value
		}
		if reading, ok := byID[sensor.ID]; ok {
			value := reading.Value
			seen := reading.TS.UTC()
			status.Value = &value
			status.LastSeen = &seen
			status.Connected = now.Sub(seen) < timeout
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// History returns readings of a sensor over the trailing window, oldest first.
func (s *QueryService) History(ctx context.Context, sensorID string, window time.Duration) ([]telemetry.Reading, error) {
	sensorID = strings.TrimSpace(sensorID)
	if sensorID == "" {
		return nil, fmt.Errorf("%w: sensor id is required", telemetry.ErrValidation)
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if window > MaxHistoryWindow {
		window = MaxHistoryWindow
	}
	return s.query.History(ctx, sensorID, s.clock.Now().UTC().Add(-window))
}

// Nodes returns every node with its sensors.
func (s *QueryService) Nodes(ctx context.Context) ([]NodeView, error) {
	nodes, err := s.query.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	sensors, err := s.query.ListSensors(ctx)
	if err != nil {
		return nil, err
	}
	byNode := make(map[string][]telemetry.Sensor)
	for _, sensor := range sensors {
		byNode[sensor.NodeID] = append(byNode[sensor.NodeID], sensor)
	}
	views := make([]NodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, NodeView{Node: node, Sensors: byNode[node.ID]})
	}
	return views, nil
}
