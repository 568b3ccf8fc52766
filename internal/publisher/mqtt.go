package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTConfig holds connection options for the MQTT publisher
type MQTTConfig struct {
	Host        string
	Port        int
	ClientID    string
	Credentials *Credentials
	QoS         byte
	Retain      bool
	Timeout     time.Duration // per publish and for the initial connect
}

// MQTTPublisher implements Publisher on an eclipse paho client.
// Reconnects are handled by the client itself.
type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	retain  bool
	timeout time.Duration
	logger  *logrus.Logger
}

// Connect creates the MQTT client and starts connecting. The broker being
// unreachable at startup is not an error: the client keeps retrying in
// the background and publishes fail until it is up.
func Connect(cfg MQTTConfig, logger *logrus.Logger) (*MQTTPublisher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mqtt host is empty")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	pahoLog := logger.WithField("component", "paho")
	mqtt.ERROR = pahoLog
	mqtt.CRITICAL = pahoLog
	mqtt.WARN = pahoLog

	p := &MQTTPublisher{
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: cfg.Timeout,
		logger:  logger,
	}

	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnectHandler).
		SetConnectionLostHandler(p.connectLostHandler)
	if cfg.Credentials != nil {
		opts.SetUsername(cfg.Credentials.Username)
		opts.SetPassword(cfg.Credentials.Password)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		logger.WithField("broker", broker).Warn("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, err)
	}

	return p, nil
}

// Publish sends a single message and waits for the client to hand it off
// (and for the broker ack at QoS > 0), bounded by the publish timeout.
func (p *MQTTPublisher) Publish(ctx context.Context, topic, payload string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: %s: timed out after %s", ErrPublish, topic, p.timeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, err)
	}
	return nil
}

// Connected reports whether the client currently holds a broker connection.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

func (p *MQTTPublisher) onConnectHandler(c mqtt.Client) {
	p.logger.Info("Connected to MQTT broker")
}

func (p *MQTTPublisher) connectLostHandler(c mqtt.Client, err error) {
	p.logger.WithError(err).Warn("MQTT connection lost")
}
