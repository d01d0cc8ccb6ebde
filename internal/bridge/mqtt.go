package bridge

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ip150-bridge/backend/internal/config"
)

const (
	brokerConnectTimeout = 30 * time.Second
	brokerDisconnectMs   = 250
	publishQoS           = 1
)

// SplitAddress resolves an mqtt:// or mqtts:// URL into a host, port and
// TLS flag. An explicit port wins; without one the scheme must be mqtt
// (1883) or mqtts (8883).
func SplitAddress(address string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", 0, false, fmt.Errorf("mqtt address: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("mqtt address %q: no host", address)
	}

	useTLS = u.Scheme == "mqtts"

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("mqtt address %q: bad port", address)
		}
		return u.Hostname(), n, useTLS, nil
	}

	switch u.Scheme {
	case "mqtt":
		return u.Hostname(), 1883, false, nil
	case "mqtts":
		return u.Hostname(), 8883, true, nil
	default:
		return "", 0, false, fmt.Errorf("mqtt address %q: no port and scheme is neither mqtt nor mqtts", address)
	}
}

// PahoBroker adapts the paho client to the Broker interface. The will
// retracts the presence topic if the bridge dies without a clean shutdown.
type PahoBroker struct {
	cfg    config.MQTTConfig
	log    zerolog.Logger
	client mqtt.Client
}

func NewPahoBroker(cfg config.MQTTConfig, logger zerolog.Logger) *PahoBroker {
	return &PahoBroker{cfg: cfg, log: logger}
}

func (p *PahoBroker) Connect(onConnect func()) error {
	host, port, useTLS, err := SplitAddress(p.cfg.Address)
	if err != nil {
		return err
	}

	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, host, port)).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetConnectTimeout(brokerConnectTimeout).
		SetWill(p.cfg.CtrlPublishTopic, "Disconnected", publishQoS, true).
		SetOnConnectHandler(func(mqtt.Client) {
			p.log.Debug().Str("broker", host).Msg("mqtt connected")
			onConnect()
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.log.Warn().Err(err).Msg("mqtt connection lost")
		})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	token.Wait()
	return token.Error()
}

func (p *PahoBroker) Publish(topic, payload string, retained bool) error {
	token := p.client.Publish(topic, publishQoS, retained, payload)
	token.Wait()
	return token.Error()
}

func (p *PahoBroker) Subscribe(topic string, handler func(topic, payload string)) error {
	token := p.client.Subscribe(topic, publishQoS, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), string(m.Payload()))
	})
	token.Wait()
	return token.Error()
}

func (p *PahoBroker) Disconnect() {
	p.client.Disconnect(brokerDisconnectMs)
}
