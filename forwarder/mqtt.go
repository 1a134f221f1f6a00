package forwarder

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/dashlog/record"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type MQTTConfig struct {
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
	QoS      byte   `toml:"qos"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

const publishTimeout = time.Second

// to allow testing
var newClient = mqtt.NewClient

// MQTTForwarder publishes each record as its raw 24 bytes to
// <topic>/<kind>, e.g. dashlog/records/engine. Records arriving while the
// broker is unreachable are dropped.
type MQTTForwarder struct {
	Config MQTTConfig

	client mqtt.Client
	outbox
	published uint64
	skipped   uint64
}

func NewMQTTForwarder(config MQTTConfig) (*MQTTForwarder, error) {
	if !config.Enabled() {
		return nil, errors.New("mqtt broker not configured")
	}
	if config.QoS > 2 {
		return nil, errors.Errorf("invalid mqtt qos %d", config.QoS)
	}
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("err", err).Warn("mqtt connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.WithField("broker", config.Broker).Info("mqtt connected")
		})
	return &MQTTForwarder{
		Config: config,
		client: newClient(opts),
		outbox: newOutbox(256),
	}, nil
}

func (m *MQTTForwarder) Forward(rec record.Record) error {
	m.push(rec)
	return nil
}

// Start connects in the background and publishes until ctx is done.
func (m *MQTTForwarder) Start(ctx context.Context) error {
	m.client.Connect()
	defer m.client.Disconnect(250)
	for {
		select {
		case <-ctx.Done():
			log.WithField("published", m.published).
				WithField("skipped", m.skipped).
				WithField("dropped", m.Dropped()).
				Info("mqtt forwarder stopped")
			return nil
		case rec := <-m.q.C():
			if err := m.publish(rec); err != nil {
				m.skipped++
				log.WithField("err", err).Debug("unable to publish record")
				continue
			}
			m.published++
		}
	}
}

func (m *MQTTForwarder) publish(rec record.Record) error {
	if !m.client.IsConnectionOpen() {
		return errors.New("not connected")
	}
	token := m.client.Publish(m.Config.Topic+"/"+rec.Kind().String(), m.Config.QoS, false, rec.Bytes())
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}
