package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Panel  PanelConfig  `yaml:"panel"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Server ServerConfig `yaml:"server"`
}

type PanelConfig struct {
	URL               string        `yaml:"url"`
	Code              string        `yaml:"code"`
	Password          string        `yaml:"password"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

type MQTTConfig struct {
	Address             string `yaml:"address"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	ZonePublishTopic    string `yaml:"zone_publish_topic"`
	AlarmPublishTopic   string `yaml:"alarm_publish_topic"`
	AlarmSubscribeTopic string `yaml:"alarm_subscribe_topic"`
	CtrlPublishTopic    string `yaml:"ctrl_publish_topic"`
	CtrlSubscribeTopic  string `yaml:"ctrl_subscribe_topic"`
}

type ServerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	AuthToken         string        `yaml:"auth_token"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Panel: PanelConfig{
			KeepaliveInterval: 5 * time.Second,
			PollInterval:      time.Second,
			SettleDelay:       3 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		MQTT: MQTTConfig{
			ZonePublishTopic:    "paradox/zone",
			AlarmPublishTopic:   "paradox/alarm",
			AlarmSubscribeTopic: "paradox/alarm/set",
			CtrlPublishTopic:    "paradox/ctrl",
			CtrlSubscribeTopic:  "paradox/ctrl/set",
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8150,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Panel.URL == "" {
		return fmt.Errorf("panel.url is required")
	}
	if _, err := url.Parse(c.Panel.URL); err != nil {
		return fmt.Errorf("panel.url: %w", err)
	}
	if c.MQTT.Address == "" {
		return fmt.Errorf("mqtt.address is required")
	}
	if c.Panel.PollInterval <= 0 {
		return fmt.Errorf("panel.poll_interval must be greater than zero")
	}
	return nil
}
