package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"buoy-svr/internal/dispatcher"
	"buoy-svr/internal/observability"
	"buoy-svr/internal/pipeline"
)

// Processor is what the client hands uplinks to.
type Processor interface {
	ProcessIncoming(ctx context.Context, in dispatcher.Incoming) (*pipeline.Reading, error)
}

type Options struct {
	Broker       string
	ClientID     string
	UplinkTopic  string
	PublishTopic string // fmt pattern with one %s for the device id
}

// Client subscribes to network-server uplinks and republishes decoded readings.
type Client struct {
	client paho.Client
	opts   Options
	proc   Processor
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(opts Options, proc Processor, logger *slog.Logger) *Client {
	c := &Client{
		opts:   opts,
		proc:   proc,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	po := paho.NewClientOptions()
	po.AddBroker(opts.Broker)
	po.SetClientID(opts.ClientID)
	po.SetCleanSession(true)

	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(5 * time.Second)
	po.SetMaxReconnectInterval(60 * time.Second)

	po.SetKeepAlive(30 * time.Second)
	po.SetPingTimeout(10 * time.Second)

	// subscribing here also restores the subscription after a reconnect
	po.SetOnConnectHandler(func(pc paho.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", opts.Broker)
		if proc == nil || opts.UplinkTopic == "" {
			return
		}
		tok := pc.Subscribe(opts.UplinkTopic, 1, func(_ paho.Client, msg paho.Message) {
			c.handleMessage(msg.Topic(), msg.Payload())
		})
		if !tok.WaitTimeout(5 * time.Second) {
			c.logger.Error("subscribe timeout", "topic", opts.UplinkTopic)
			return
		}
		if err := tok.Error(); err != nil {
			c.logger.Error("subscribe failed", "topic", opts.UplinkTopic, "error", err)
			return
		}
		c.logger.Info("subscribed to uplinks", "topic", opts.UplinkTopic)
	})
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = paho.NewClient(po)
	return c
}

// Connect waits for the initial connection while honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			c.client.Disconnect(0)
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

func (c *Client) handleMessage(topic string, payload []byte) {
	observability.UplinksRecv.Inc()

	up, err := ParseUplink(payload)
	if err != nil {
		c.logger.Warn("uplink ignored", "topic", topic, "error", err)
		return
	}
	_, err = c.proc.ProcessIncoming(context.Background(), dispatcher.Incoming{
		DeviceID:  up.DeviceID,
		Source:    pipeline.SourceMQTT,
		Data:      up.Frame,
		SampledAt: up.ReceivedAt,
	})
	if err != nil {
		c.logger.Warn("uplink processing failed", "topic", topic, "device", up.DeviceID, "error", err)
	}
}

func (c *Client) Name() string { return "mqtt" }

// Handle publishes the reading as JSON on the device's topic.
func (c *Client) Handle(_ context.Context, r *pipeline.Reading) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	topic := fmt.Sprintf(c.opts.PublishTopic, r.DeviceID)

	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	c.logger.Debug("published reading", "topic", topic)
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
