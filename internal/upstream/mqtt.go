// Package upstream subscribes to the scan-result topic and hands each
// message to the batch accumulator. Offsets are a monotonically
// increasing local sequence number since MQTT has no broker-assigned
// offset; QoS1 PUBACK is sent only once Ack(offset) fires for a message
// at or beyond it, so an unacknowledged batch is redelivered by the
// broker after a reconnect.
package upstream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/pkg/logx"
)

// Config holds MQTT connection settings.
type Config struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// DefaultConfig returns settings for a local development broker.
func DefaultConfig() Config {
	return Config{
		Broker:   "localhost",
		Port:     1883,
		ClientID: "ingestd",
		Topic:    "wifiloc/scans",
		QoS:      1,
	}
}

// Consumer subscribes to the scan-result topic and hands each message
// to an Accumulator as a batch.Record. It implements delivery.Acker:
// Ack(offset) is called once a batch containing that offset has been
// durably delivered, at which point every pending MQTT message up to
// and including that offset is acknowledged.
type Consumer struct {
	client MQTT.Client
	log    *logx.Logger
	acc    *batch.Accumulator

	mu      sync.Mutex
	pending map[uint64]MQTT.Message
	nextSeq uint64
}

// NewConsumer builds a Consumer wired to acc; Connect must be called to
// start receiving messages.
func NewConsumer(cfg Config, log *logx.Logger, acc *batch.Accumulator) *Consumer {
	c := &Consumer{log: log.WithField("component", "upstream"), acc: acc, pending: make(map[uint64]MQTT.Message)}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	// Manual acks: PUBACK only after the delivery engine confirms the
	// batch reached the sink.
	opts.SetAutoAckDisabled(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetDefaultPublishHandler(c.onMessage(cfg.Topic))

	c.client = MQTT.NewClient(opts)
	return c
}

// Connect opens the broker connection and subscribes to the configured
// topic.
func (c *Consumer) Connect(cfg Config) error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker %s:%d: %w", cfg.Broker, cfg.Port, token.Error())
	}
	if token := c.client.Subscribe(cfg.Topic, cfg.QoS, nil); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", cfg.Topic, token.Error())
	}
	c.log.Info("subscribed to scan topic", "topic", cfg.Topic)
	return nil
}

func (c *Consumer) onMessage(topic string) MQTT.MessageHandler {
	return func(client MQTT.Client, msg MQTT.Message) {
		offset := atomic.AddUint64(&c.nextSeq, 1)

		c.mu.Lock()
		c.pending[offset] = msg
		c.mu.Unlock()

		c.acc.Add(batch.Record{Offset: offset, Bytes: msg.Payload()})
	}
}

// Ack acknowledges every buffered message with an offset at or below
// offset, matching the upstream contract that the core only ever calls
// ack, never nack, and that acknowledgement advances monotonically.
func (c *Consumer) Ack(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for o, msg := range c.pending {
		if o <= offset {
			msg.Ack()
			delete(c.pending, o)
		}
	}
}

// Disconnect closes the broker connection.
func (c *Consumer) Disconnect() {
	c.client.Disconnect(250)
}
