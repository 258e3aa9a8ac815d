// Package wire decodes device reading payloads shared by the HTTP and MQTT
// ingestion paths.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

// Reading is the inbound JSON. The firmware spelling (id_nodo, id_sensor,
// valor, bateria_nodo) is accepted next to the canonical one; when both are
// present the canonical field wins.
type Reading struct {
	NodeID      string   `json:"node_id"`
	SensorID    string   `json:"sensor_id"`
	Value       *float64 `json:"value"`
	Battery     *float64 `json:"battery"`
	IDNodo      string   `json:"id_nodo"`
	IDSensor    string   `json:"id_sensor"`
	Valor       *float64 `json:"valor"`
	BateriaNodo *float64 `json:"bateria_nodo"`
	APIKey      string   `json:"api_key,omitempty"`
}

// Decode parses one reading payload. Anything after the first JSON value is rejected.
func Decode(data []byte) (Reading, error) {
	var r Reading
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&r); err != nil {
		return Reading{}, fmt.Errorf("%w: invalid json: %v", telemetry.ErrValidation, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Reading{}, fmt.Errorf("%w: invalid json: trailing data after payload", telemetry.ErrValidation)
	}
	return r, nil
}

// Command maps the payload onto an ingest command. Missing ids or value and a
// battery outside 0..100 are validation errors.
func (r Reading) Command() (application.IngestCommand, error) {
	cmd := application.IngestCommand{
		NodeID:   pick(r.NodeID, r.IDNodo),
		SensorID: pick(r.SensorID, r.IDSensor),
	}
	value := r.Value
	if value == nil {
		value = r.Valor
	}
	if value == nil {
		return application.IngestCommand{}, fmt.Errorf("%w: value is required", telemetry.ErrValidation)
	}
	cmd.Value = *value

	battery := r.Battery
	if battery == nil {
		battery = r.BateriaNodo
	}
	if battery != nil {
		if math.IsNaN(*battery) || *battery < 0 || *battery > telemetry.MaxBattery {
			return application.IngestCommand{}, fmt.Errorf("%w: battery must be within 0..%d", telemetry.ErrValidation, telemetry.MaxBattery)
		}
		level := int(math.Round(*battery))
		cmd.Battery = &level
	}
	if err := cmd.Validate(); err != nil {
		return application.IngestCommand{}, err
	}
	return cmd, nil
}

func pick(primary, alias string) string {
	if primary != "" {
		return primary
	}
	return alias
}
