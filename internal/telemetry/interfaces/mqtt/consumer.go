package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"hisens-cloud/internal/auth"
	"hisens-cloud/internal/config"
	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/observability/metrics"
	"hisens-cloud/internal/telemetry/application"
	"hisens-cloud/internal/telemetry/interfaces/wire"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
)

// ErrUnauthorized marks a payload with a missing or wrong api_key.
var ErrUnauthorized = errors.New("mqtt ingest: invalid api key")

// Ingester runs the ingestion pipeline for one reading.
type Ingester interface {
	Ingest(ctx context.Context, cmd application.IngestCommand) (application.IngestResult, error)
}

// Consumer subscribes to device topics and feeds readings into the pipeline.
// There is no reply channel: rejected messages are logged and counted.
type Consumer struct {
	cfg     config.MQTTConfig
	apiKey  []byte
	service Ingester
	logger  *zap.Logger
	client  paho.Client
}

// NewConsumer constructs a consumer. Start connects it.
func NewConsumer(cfg config.MQTTConfig, apiKey string, service Ingester, logger *zap.Logger) (*Consumer, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt ingest: empty broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt ingest: empty topic")
	}
	if apiKey == "" {
		return nil, errors.New("mqtt ingest: empty api key")
	}
	if service == nil {
		return nil, errors.New("mqtt ingest: nil service")
	}
	return &Consumer{
		cfg:     cfg,
		apiKey:  []byte(apiKey),
		service: service,
		logger:  logging.OrNop(logger),
	}, nil
}

// Start connects to the broker and subscribes. Subscriptions are restored on reconnect.
func (c *Consumer) Start() error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(client paho.Client) {
		token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, c.onMessage)
		if token.Wait() && token.Error() != nil {
			c.logger.Error("mqtt subscribe failed", zap.String("topic", c.cfg.Topic), zap.Error(token.Error()))
			return
		}
		c.logger.Info("mqtt subscribed", zap.String("topic", c.cfg.Topic), zap.Uint8("qos", c.cfg.QoS))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt ingest: connect to %s timed out", c.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt ingest: connect to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (c *Consumer) Stop() {
	if c == nil || c.client == nil {
		return
	}
	if c.client.IsConnected() {
		token := c.client.Unsubscribe(c.cfg.Topic)
		token.WaitTimeout(time.Second)
	}
	c.client.Disconnect(disconnectQuiesce)
}

// onMessage runs the pipeline without a deadline, like the HTTP ingest path.
func (c *Consumer) onMessage(_ paho.Client, msg paho.Message) {
	if err := c.HandleMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
		c.logger.Warn("mqtt reading rejected", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// HandleMessage authenticates and ingests one payload.
func (c *Consumer) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	reading, err := wire.Decode(payload)
	if err != nil {
		metrics.IncIngestError("validation")
		return err
	}
	if !auth.CheckAPIKey(c.apiKey, reading.APIKey) {
		metrics.IncIngestError("unauthorized")
		return ErrUnauthorized
	}
	cmd, err := reading.Command()
	if err != nil {
		metrics.IncIngestError("validation")
		return err
	}
	if _, err := c.service.Ingest(ctx, cmd); err != nil {
		return fmt.Errorf("mqtt ingest %s: %w", topic, err)
	}
	return nil
}
