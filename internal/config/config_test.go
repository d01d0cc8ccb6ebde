package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
panel:
  url: https://192.168.1.10
  code: "1234"
  password: secret
mqtt:
  address: mqtt://broker
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://192.168.1.10", cfg.Panel.URL)
	assert.Equal(t, 5*time.Second, cfg.Panel.KeepaliveInterval)
	assert.Equal(t, time.Second, cfg.Panel.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Panel.SettleDelay)
	assert.Equal(t, "paradox/zone", cfg.MQTT.ZonePublishTopic)
	assert.Equal(t, "paradox/ctrl/set", cfg.MQTT.CtrlSubscribeTopic)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8150, cfg.Server.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Server.BroadcastThrottle)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
panel:
  url: https://10.0.0.2:8443
  code: "0042"
  password: hunter2
  keepalive_interval: 30s
  poll_interval: 2s
mqtt:
  address: mqtts://broker.local
  username: bridge
  zone_publish_topic: home/alarm/zone
server:
  enabled: true
  port: 9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Panel.KeepaliveInterval)
	assert.Equal(t, 2*time.Second, cfg.Panel.PollInterval)
	assert.Equal(t, "bridge", cfg.MQTT.Username)
	assert.Equal(t, "home/alarm/zone", cfg.MQTT.ZonePublishTopic)
	// Unset topics keep their defaults.
	assert.Equal(t, "paradox/alarm", cfg.MQTT.AlarmPublishTopic)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, ":::not valid yaml"))
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing panel url",
			content: "mqtt:\n  address: mqtt://broker\n",
			wantErr: "panel.url",
		},
		{
			name:    "missing mqtt address",
			content: "panel:\n  url: https://192.168.1.10\n",
			wantErr: "mqtt.address",
		},
		{
			name:    "bad poll interval",
			content: "panel:\n  url: https://192.168.1.10\n  poll_interval: -1s\nmqtt:\n  address: mqtt://broker\n",
			wantErr: "poll_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
