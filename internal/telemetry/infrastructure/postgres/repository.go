package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	telemetry "hisens-cloud/internal/telemetry/domain"
)

const (
	defaultNodesTable    = "nodos"
	defaultSensorsTable  = "sensores"
	defaultReadingsTable = "lecturas"

	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tables struct {
	nodes    string
	sensors  string
	readings string
}

func defaultTables() tables {
	return tables{nodes: defaultNodesTable, sensors: defaultSensorsTable, readings: defaultReadingsTable}
}

// RepositoryOption configures table names.
type RepositoryOption func(*tables)

// WithNodesTable overrides the nodes table.
func WithNodesTable(table string) RepositoryOption {
	return func(t *tables) {
		if table != "" {
			t.nodes = table
		}
	}
}

// WithSensorsTable overrides the sensors table.
func WithSensorsTable(table string) RepositoryOption {
	return func(t *tables) {
		if table != "" {
			t.sensors = table
		}
	}
}

// WithReadingsTable overrides the readings table.
func WithReadingsTable(table string) RepositoryOption {
	return func(t *tables) {
		if table != "" {
			t.readings = table
		}
	}
}

func buildTables(opts []RepositoryOption) tables {
	t := defaultTables()
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// NodeRepository persists nodes.
type NodeRepository struct {
	db     DBTX
	tables tables
}

// NewNodeRepository constructs a node repository.
func NewNodeRepository(db DBTX, opts ...RepositoryOption) *NodeRepository {
	return &NodeRepository{db: db, tables: buildTables(opts)}
}

// Get loads a node by id. It returns nil, nil when absent.
func (r *NodeRepository) Get(ctx context.Context, id string) (*telemetry.Node, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("node repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, area, direccion, piso, bateria
FROM %s
WHERE id = $1`, r.tables.nodes)
	node, err := scanNode(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// Create inserts a node. An existing id yields telemetry.ErrConflict.
func (r *NodeRepository) Create(ctx context.Context, node telemetry.Node) error {
	if r == nil || r.db == nil {
		return errors.New("node repo: nil db")
	}
	if err := node.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, area, direccion, piso, bateria)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, r.tables.nodes)
	result, err := r.db.ExecContext(ctx, query, node.ID, node.Area, node.Address, node.Floor, node.Battery)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result, telemetry.ErrConflict, "node", node.ID)
}

// UpdateBattery overwrites the node battery level.
func (r *NodeRepository) UpdateBattery(ctx context.Context, id string, battery int) error {
	if r == nil || r.db == nil {
		return errors.New("node repo: nil db")
	}
	if err := telemetry.ValidateBattery(battery); err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET bateria = $2 WHERE id = $1`, r.tables.nodes)
	result, err := r.db.ExecContext(ctx, query, id, battery)
	if err != nil {
		return err
	}
	return requireRow(result, telemetry.ErrNotFound, "node", id)
}

// UpdateLocation overwrites area, address and floor.
func (r *NodeRepository) UpdateLocation(ctx context.Context, id string, location telemetry.Location) error {
	if r == nil || r.db == nil {
		return errors.New("node repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET area = $2, direccion = $3, piso = $4
WHERE id = $1`, r.tables.nodes)
	result, err := r.db.ExecContext(ctx, query, id, location.Area, location.Address, location.Floor)
	if err != nil {
		return err
	}
	return requireRow(result, telemetry.ErrNotFound, "node", id)
}

// Delete removes a node. Sensors must have been moved or removed first.
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("node repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.nodes)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(result, telemetry.ErrNotFound, "node", id)
}

// List returns every node ordered by id.
func (r *NodeRepository) List(ctx context.Context) ([]telemetry.Node, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("node repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, area, direccion, piso, bateria
FROM %s
ORDER BY id`, r.tables.nodes)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make([]telemetry.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// SensorRepository persists sensors.
type SensorRepository struct {
	db     DBTX
	tables tables
}

// NewSensorRepository constructs a sensor repository.
func NewSensorRepository(db DBTX, opts ...RepositoryOption) *SensorRepository {
	return &SensorRepository{db: db, tables: buildTables(opts)}
}

const sensorColumns = `id, id_nodo, nombre_tarjeta, tipo, unidad, limite_alto, limite_bajo, visible`

// Get loads a sensor by id. It returns nil, nil when absent.
func (r *SensorRepository) Get(ctx context.Context, id string) (*telemetry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sensorColumns, r.tables.sensors)
	sensor, err := scanSensor(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

// Create inserts a sensor. An existing id yields telemetry.ErrConflict and a
// missing node yields telemetry.ErrNotFound.
func (r *SensorRepository) Create(ctx context.Context, sensor telemetry.Sensor) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if err := sensor.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`, r.tables.sensors, sensorColumns)
	result, err := r.db.ExecContext(ctx, query,
		sensor.ID,
		sensor.NodeID,
		sensor.Name,
		sensor.Type,
		sensor.Unit,
		nullFloat(sensor.HighLimit),
		nullFloat(sensor.LowLimit),
		sensor.Visible,
	)
	if err != nil {
		return mapError(err)
	}
	return requireRow(result, telemetry.ErrConflict, "sensor", sensor.ID)
}

// UpdateConfig overwrites limits and visibility.
func (r *SensorRepository) UpdateConfig(ctx context.Context, id string, cfg telemetry.SensorConfig) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET limite_alto = $2, limite_bajo = $3, visible = $4
WHERE id = $1`, r.tables.sensors)
	result, err := r.db.ExecContext(ctx, query, id, nullFloat(cfg.HighLimit), nullFloat(cfg.LowLimit), cfg.Visible)
	if err != nil {
		return err
	}
	return requireRow(result, telemetry.ErrNotFound, "sensor", id)
}

// ListByNode returns the sensors of one node ordered by id.
func (r *SensorRepository) ListByNode(ctx context.Context, nodeID string) ([]telemetry.Sensor, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id_nodo = $1 ORDER BY id`, sensorColumns, r.tables.sensors)
	return querySensors(ctx, r.db, query, nodeID)
}

// Reassign moves every sensor of fromNodeID to toNodeID and returns how many moved.
func (r *SensorRepository) Reassign(ctx context.Context, fromNodeID, toNodeID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`UPDATE %s SET id_nodo = $2 WHERE id_nodo = $1`, r.tables.sensors)
	result, err := r.db.ExecContext(ctx, query, fromNodeID, toNodeID)
	if err != nil {
		return 0, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Delete removes a sensor. Its readings must have been removed first.
func (r *SensorRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("sensor repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.sensors)
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireRow(result, telemetry.ErrNotFound, "sensor", id)
}

// ReadingRepository appends readings.
type ReadingRepository struct {
	db     DBTX
	tables tables
}

// NewReadingRepository constructs a reading repository.
func NewReadingRepository(db DBTX, opts ...RepositoryOption) *ReadingRepository {
	return &ReadingRepository{db: db, tables: buildTables(opts)}
}

// Insert appends a reading and returns its id.
func (r *ReadingRepository) Insert(ctx context.Context, reading telemetry.Reading) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	if reading.SensorID == "" || reading.TS.IsZero() {
		return 0, errors.New("reading repo: invalid reading")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (ts, id_sensor, valor)
VALUES ($1, $2, $3)
RETURNING id`, r.tables.readings)
	var id int64
	if err := r.db.QueryRowContext(ctx, query, reading.TS.UTC(), reading.SensorID, reading.Value).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// DeleteBySensor removes every reading of a sensor.
func (r *ReadingRepository) DeleteBySensor(ctx context.Context, sensorID string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id_sensor = $1`, r.tables.readings)
	result, err := r.db.ExecContext(ctx, query, sensorID)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (telemetry.Node, error) {
	var node telemetry.Node
	err := row.Scan(&node.ID, &node.Area, &node.Address, &node.Floor, &node.Battery)
	return node, err
}

func scanSensor(row rowScanner) (telemetry.Sensor, error) {
	var (
		sensor telemetry.Sensor
		high   sql.NullFloat64
		low    sql.NullFloat64
		unit   sql.NullString
	)
	if err := row.Scan(&sensor.ID, &sensor.NodeID, &sensor.Name, &sensor.Type, &unit, &high, &low, &sensor.Visible); err != nil {
		return telemetry.Sensor{}, err
	}
	sensor.Unit = unit.String
	if high.Valid {
		value := high.Float64
		sensor.HighLimit = &value
	}
	if low.Valid {
		value := low.Float64
		sensor.LowLimit = &value
	}
	return sensor, nil
}

func querySensors(ctx context.Context, db DBTX, query string, args ...any) ([]telemetry.Sensor, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sensors := make([]telemetry.Sensor, 0)
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, rows.Err()
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func requireRow(result sql.Result, sentinel error, kind, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", sentinel, kind, id)
	}
	return nil
}

// mapError translates Postgres constraint violations into domain errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return fmt.Errorf("%w: %s", telemetry.ErrConflict, pgErr.Detail)
	case foreignKeyViolation:
		return fmt.Errorf("%w: %s", telemetry.ErrNotFound, pgErr.Detail)
	default:
		return err
	}
}
