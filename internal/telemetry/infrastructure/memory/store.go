package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Store is an in-memory transactional store. Do serializes units of work and
// publishes their changes only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type state struct {
	nodes         map[string]telemetry.Node
	sensors       map[string]telemetry.Sensor
	readings      []telemetry.Reading
	events        []audit.Event
	nextReadingID int64
	nextEventID   int64
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		state: &state{
			nodes:   make(map[string]telemetry.Node),
			sensors: make(map[string]telemetry.Sensor),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Do runs fn against a working copy and commits it when fn returns nil.
func (s *Store) Do(ctx context.Context, fn func(repos application.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	repos := application.Repositories{
		Nodes:    &nodeRepo{st: work},
		Sensors:  &sensorRepo{st: work},
		Readings: &readingRepo{st: work},
		Events:   &eventRepo{st: work, now: s.now},
	}
	if err := fn(repos); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Events returns a copy of the committed event log.
func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.state.events...)
}

// Readings returns a copy of the committed readings in insertion order.
func (s *Store) Readings() []telemetry.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Reading(nil), s.state.readings...)
}

// ListNodes returns committed nodes ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]telemetry.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&nodeRepo{st: s.state}).List(ctx)
}

// ListSensors returns committed sensors ordered by id.
func (s *Store) ListSensors(ctx context.Context) ([]telemetry.Sensor, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sensors := make([]telemetry.Sensor, 0, len(s.state.sensors))
	for _, sensor := range s.state.sensors {
		sensors = append(sensors, sensor)
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
	return sensors, nil
}

// LatestReadings returns the newest reading per sensor.
func (s *Store) LatestReadings(ctx context.Context) ([]telemetry.Reading, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]telemetry.Reading)
	for _, reading := range s.state.readings {
		current, ok := latest[reading.SensorID]
		if !ok || reading.TS.After(current.TS) || (reading.TS.Equal(current.TS) && reading.ID > current.ID) {
			latest[reading.SensorID] = reading
		}
	}
	out := make([]telemetry.Reading, 0, len(latest))
	for _, reading := range latest {
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// History returns readings of one sensor since the given instant, oldest first.
func (s *Store) History(ctx context.Context, sensorID string, since time.Time) ([]telemetry.Reading, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telemetry.Reading, 0)
	for _, reading := range s.state.readings {
		if reading.SensorID == sensorID && !reading.TS.Before(since) {
			out = append(out, reading)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func (st *state) clone() *state {
	next := &state{
		nodes:         make(map[string]telemetry.Node, len(st.nodes)),
		sensors:       make(map[string]telemetry.Sensor, len(st.sensors)),
		readings:      append([]telemetry.Reading(nil), st.readings...),
		events:        append([]audit.Event(nil), st.events...),
		nextReadingID: st.nextReadingID,
		nextEventID:   st.nextEventID,
	}
	for id, node := range st.nodes {
		next.nodes[id] = node
	}
	for id, sensor := range st.sensors {
		next.sensors[id] = sensor
	}
	return next
}

type nodeRepo struct {
	st *state
}

func (r *nodeRepo) Get(ctx context.Context, id string) (*telemetry.Node, error) {
	_ = ctx
	node, ok := r.st.nodes[id]
	if !ok {
		return nil, nil
	}
	return &node, nil
}

func (r *nodeRepo) Create(ctx context.Context, node telemetry.Node) error {
	_ = ctx
	if err := node.Validate(); err != nil {
		return err
	}
	if _, ok := r.st.nodes[node.ID]; ok {
		return fmt.Errorf("%w: node %s", telemetry.ErrConflict, node.ID)
	}
	r.st.nodes[node.ID] = node
	return nil
}

func (r *nodeRepo) UpdateBattery(ctx context.Context, id string, battery int) error {
	_ = ctx
	if err := telemetry.ValidateBattery(battery); err != nil {
		return err
	}
	node, ok := r.st.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", telemetry.ErrNotFound, id)
	}
	node.Battery = battery
	r.st.nodes[id] = node
	return nil
}

func (r *nodeRepo) UpdateLocation(ctx context.Context, id string, location telemetry.Location) error {
	_ = ctx
	node, ok := r.st.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", telemetry.ErrNotFound, id)
	}
	node.Area = location.Area
	node.Address = location.Address
	node.Floor = location.Floor
	r.st.nodes[id] = node
	return nil
}

func (r *nodeRepo) Delete(ctx context.Context, id string) error {
	_ = ctx
	if _, ok := r.st.nodes[id]; !ok {
		return fmt.Errorf("%w: node %s", telemetry.ErrNotFound, id)
	}
	for _, sensor := range r.st.sensors {
		if sensor.NodeID == id {
			return fmt.Errorf("memory store: node %s still has sensors", id)
		}
	}
	delete(r.st.nodes, id)
	return nil
}

func (r *nodeRepo) List(ctx context.Context) ([]telemetry.Node, error) {
	_ = ctx
	nodes := make([]telemetry.Node, 0, len(r.st.nodes))
	for _, node := range r.st.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

type sensorRepo struct {
	st *state
}

func (r *sensorRepo) Get(ctx context.Context, id string) (*telemetry.Sensor, error) {
	_ = ctx
	sensor, ok := r.st.sensors[id]
	if !ok {
		return nil, nil
	}
	return &sensor, nil
}

func (r *sensorRepo) Create(ctx context.Context, sensor telemetry.Sensor) error {
	_ = ctx
	if err := sensor.Validate(); err != nil {
		return err
	}
	if _, ok := r.st.nodes[sensor.NodeID]; !ok {
		return fmt.Errorf("%w: node %s", telemetry.ErrNotFound, sensor.NodeID)
	}
	if _, ok := r.st.sensors[sensor.ID]; ok {
		return fmt.Errorf("%w: sensor %s", telemetry.ErrConflict, sensor.ID)
	}
	r.st.sensors[sensor.ID] = sensor
	return nil
}

func (r *sensorRepo) UpdateConfig(ctx context.Context, id string, cfg telemetry.SensorConfig) error {
	_ = ctx
	if err := cfg.Validate(); err != nil {
		return err
	}
	sensor, ok := r.st.sensors[id]
	if !ok {
		return fmt.Errorf("%w: sensor %s", telemetry.ErrNotFound, id)
	}
	r.st.sensors[id] = cfg.Apply(sensor)
	return nil
}

func (r *sensorRepo) ListByNode(ctx context.Context, nodeID string) ([]telemetry.Sensor, error) {
	_ = ctx
	sensors := make([]telemetry.Sensor, 0)
	for _, sensor := range r.st.sensors {
		if sensor.NodeID == nodeID {
			sensors = append(sensors, sensor)
		}
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].ID < sensors[j].ID })
	return sensors, nil
}

func (r *sensorRepo) Reassign(ctx context.Context, fromNodeID, toNodeID string) (int, error) {
	_ = ctx
	if _, ok := r.st.nodes[toNodeID]; !ok {
		return 0, fmt.Errorf("%w: node %s", telemetry.ErrNotFound, toNodeID)
	}
	moved := 0
	for id, sensor := range r.st.sensors {
		if sensor.NodeID == fromNodeID {
			sensor.NodeID = toNodeID
			r.st.sensors[id] = sensor
			moved++
		}
	}
	return moved, nil
}

func (r *sensorRepo) Delete(ctx context.Context, id string) error {
	_ = ctx
	if _, ok := r.st.sensors[id]; !ok {
		return fmt.Errorf("%w: sensor %s", telemetry.ErrNotFound, id)
	}
	for _, reading := range r.st.readings {
		if reading.SensorID == id {
			return fmt.Errorf("memory store: sensor %s still has readings", id)
		}
	}
	delete(r.st.sensors, id)
	return nil
}

type readingRepo struct {
	st *state
}

func (r *readingRepo) Insert(ctx context.Context, reading telemetry.Reading) (int64, error) {
	_ = ctx
	if reading.SensorID == "" || reading.TS.IsZero() {
		return 0, errors.New("memory store: invalid reading")
	}
	if _, ok := r.st.sensors[reading.SensorID]; !ok {
		return 0, fmt.Errorf("%w: sensor %s", telemetry.ErrNotFound, reading.SensorID)
	}
	r.st.nextReadingID++
	reading.ID = r.st.nextReadingID
	reading.TS = reading.TS.UTC()
	r.st.readings = append(r.st.readings, reading)
	return reading.ID, nil
}

func (r *readingRepo) DeleteBySensor(ctx context.Context, sensorID string) (int, error) {
	_ = ctx
	kept := r.st.readings[:0]
	removed := 0
	for _, reading := range r.st.readings {
		if reading.SensorID == sensorID {
			removed++
			continue
		}
		kept = append(kept, reading)
	}
	r.st.readings = kept
	return removed, nil
}

type eventRepo struct {
	st  *state
	now func() time.Time
}

func (r *eventRepo) Record(ctx context.Context, event audit.Event) error {
	_ = ctx
	if event.Type == "" {
		return errors.New("memory store: empty event type")
	}
	if event.TS.IsZero() {
		event.TS = r.now()
	}
	r.st.nextEventID++
	event.ID = r.st.nextEventID
	event.TS = event.TS.UTC()
	r.st.events = append(r.st.events, event)
	return nil
}
