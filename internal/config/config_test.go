package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"Yes", true},
		{"on", true},
		{" on ", true},
		{"0", false},
		{"false", false},
		{"", false},
		{"enabled", false},
	}

	for _, test := range tests {
		t.Run(test.value, func(t *testing.T) {
			assert.Equal(t, test.want, ParseBool(test.value))
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUEUE_STORAGE_DIR", dir)

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultGatewayID, c.GatewayID)
	assert.Equal(t, DefaultMQTTHost, c.MQTTHost)
	assert.Equal(t, DefaultMQTTPort, c.MQTTPort)
	assert.True(t, c.MQTTUseTLS)
	assert.False(t, c.MQTTTLSInsecure)
	assert.Equal(t, DefaultBackoffBase, c.BackoffBase)
	assert.Equal(t, DefaultBackoffMax, c.BackoffMax)
	assert.True(t, c.EnableUDPSource)
	assert.True(t, c.EnableLoRaSource)
	assert.False(t, c.LoRaForceSimulation)
	assert.Equal(t, DefaultUDPListenPort, c.UDPListenPort)
	assert.Equal(t, DefaultHealthPort, c.HealthPort)
	assert.Equal(t, DefaultLogLevel, c.LogLevel)
	assert.Equal(t, filepath.Join(dir, "gateway_queue.db"), c.QueueDBPath)
}

func TestFromEnvOverrides(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "queue.db")
	t.Setenv("GATEWAY_ID", "vg-edge-7")
	t.Setenv("MQTT_HOST", "broker.example.com")
	t.Setenv("MQTT_PORT", "1883")
	t.Setenv("MQTT_USE_TLS", "no")
	t.Setenv("MQTT_BACKOFF_BASE", "0.5")
	t.Setenv("MQTT_BACKOFF_MAX", "60")
	t.Setenv("ENABLE_LORA_SOURCE", "off")
	t.Setenv("UDP_LISTEN_PORT", "9999")
	t.Setenv("QUEUE_DB_PATH", dbPath)

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "vg-edge-7", c.GatewayID)
	assert.Equal(t, "broker.example.com", c.MQTTHost)
	assert.Equal(t, 1883, c.MQTTPort)
	assert.False(t, c.MQTTUseTLS)
	assert.Equal(t, 0.5, c.BackoffBase)
	assert.Equal(t, 60.0, c.BackoffMax)
	assert.False(t, c.EnableLoRaSource)
	assert.Equal(t, 9999, c.UDPListenPort)
	assert.Equal(t, dbPath, c.QueueDBPath)

	// parent directory of the queue file is created
	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestFromEnvInvalidPort(t *testing.T) {
	t.Setenv("QUEUE_STORAGE_DIR", t.TempDir())
	t.Setenv("MQTT_PORT", "not-a-port")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQTT_PORT")
}

func TestFromEnvConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gateway.yaml")
	yaml := "gatewayId: vg-from-file\nmqttHost: file-broker\nhealthPort: 9090\n"
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))

	t.Setenv("GATEWAY_CONFIG_FILE", file)
	t.Setenv("QUEUE_STORAGE_DIR", dir)
	t.Setenv("MQTT_HOST", "env-broker") // env wins over file

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "vg-from-file", c.GatewayID)
	assert.Equal(t, "env-broker", c.MQTTHost)
	assert.Equal(t, 9090, c.HealthPort)
}
