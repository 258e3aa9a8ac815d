package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisens-cloud/internal/config"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

type recordingIngester struct {
	commands     []application.IngestCommand
	hadDeadlines []bool
}

func (r *recordingIngester) Ingest(ctx context.Context, cmd application.IngestCommand) (application.IngestResult, error) {
	r.commands = append(r.commands, cmd)
	_, ok := ctx.Deadline()
	r.hadDeadlines = append(r.hadDeadlines, ok)
	return application.IngestResult{}, nil
}

type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 1 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

func newConsumer(t *testing.T) (*Consumer, *recordingIngester) {
	t.Helper()
	ingester := &recordingIngester{}
	cfg := config.Defaults().MQTT
	cfg.Broker = "tcp://127.0.0.1:1883"
	c, err := NewConsumer(cfg, "secret", ingester, nil)
	require.NoError(t, err)
	return c, ingester
}

func TestHandleMessageIngestsAuthenticatedPayload(t *testing.T) {
	c, ingester := newConsumer(t)
	err := c.HandleMessage(context.Background(), "hisens/ESP32-01/lectura",
		[]byte(`{"api_key":"secret","id_nodo":"ESP32-01","id_sensor":"T1","valor":19.5,"bateria_nodo":70}`))
	require.NoError(t, err)
	require.Len(t, ingester.commands, 1)
	assert.Equal(t, "ESP32-01", ingester.commands[0].NodeID)
	assert.Equal(t, 19.5, ingester.commands[0].Value)
	require.NotNil(t, ingester.commands[0].Battery)
	assert.Equal(t, 70, *ingester.commands[0].Battery)
}

func TestHandleMessageRejectsWrongKey(t *testing.T) {
	c, ingester := newConsumer(t)
	err := c.HandleMessage(context.Background(), "t", []byte(`{"api_key":"nope","node_id":"N","sensor_id":"S","value":1}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
	err = c.HandleMessage(context.Background(), "t", []byte(`{"node_id":"N","sensor_id":"S","value":1}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, ingester.commands)
}

func TestHandleMessageRejectsInvalidPayload(t *testing.T) {
	c, ingester := newConsumer(t)
	err := c.HandleMessage(context.Background(), "t", []byte(`{"api_key":"secret","node_id":"N","sensor_id":"S"}`))
	assert.ErrorIs(t, err, telemetry.ErrValidation)
	err = c.HandleMessage(context.Background(), "t", []byte(`garbage`))
	assert.ErrorIs(t, err, telemetry.ErrValidation)
	assert.Empty(t, ingester.commands)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(config.MQTTConfig{}, "k", &recordingIngester{}, nil)
	assert.Error(t, err)
	_, err = NewConsumer(config.MQTTConfig{Broker: "tcp://x:1883", Topic: "t"}, "", &recordingIngester{}, nil)
	assert.Error(t, err)
	_, err = NewConsumer(config.MQTTConfig{Broker: "tcp://x:1883", Topic: "t"}, "k", nil, nil)
	assert.Error(t, err)
}

func TestOnMessageIngestsWithoutDeadline(t *testing.T) {
	c, ingester := newConsumer(t)
	c.onMessage(nil, stubMessage{
		topic:   "hisens/N1/lectura",
		payload: []byte(`{"api_key":"secret","node_id":"N1","sensor_id":"S1","value":3}`),
	})
	require.Len(t, ingester.commands, 1)
	assert.False(t, ingester.hadDeadlines[0])

	c.onMessage(nil, stubMessage{topic: "t", payload: []byte(`{"api_key":"nope","node_id":"N1","sensor_id":"S1","value":3}`)})
	assert.Len(t, ingester.commands, 1)
}
