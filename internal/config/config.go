// Package config provides the gateway runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultGatewayID     = "vineguard-gateway"
	DefaultMQTTHost      = "localhost"
	DefaultMQTTPort      = 8883
	DefaultBackoffBase   = 1.0
	DefaultBackoffMax    = 32.0
	DefaultStorageDir    = "./edge/gateway/data"
	DefaultUDPListenHost = "0.0.0.0"
	DefaultUDPListenPort = 1700
	DefaultHealthPort    = 8080
	DefaultLogLevel      = "INFO"

	queueFilename = "gateway_queue.db"
)

// Environment variable names.
const (
	envConfigFile = "GATEWAY_CONFIG_FILE"

	envGatewayID       = "GATEWAY_ID"
	envMQTTHost        = "MQTT_HOST"
	envMQTTPort        = "MQTT_PORT"
	envMQTTUsername    = "MQTT_USERNAME"
	envMQTTPassword    = "MQTT_PASSWORD"
	envMQTTUseTLS      = "MQTT_USE_TLS"
	envMQTTCACert      = "MQTT_CA_CERT"
	envMQTTClientCert  = "MQTT_CLIENT_CERT"
	envMQTTClientKey   = "MQTT_CLIENT_KEY"
	envMQTTTLSInsecure = "MQTT_TLS_INSECURE"
	envBackoffBase     = "MQTT_BACKOFF_BASE"
	envBackoffMax      = "MQTT_BACKOFF_MAX"
	envQueueDBPath     = "QUEUE_DB_PATH"
	envQueueStorageDir = "QUEUE_STORAGE_DIR"
	envEnableUDP       = "ENABLE_UDP_SOURCE"
	envUDPListenHost   = "UDP_LISTEN_HOST"
	envUDPListenPort   = "UDP_LISTEN_PORT"
	envEnableLoRa      = "ENABLE_LORA_SOURCE"
	envLoRaForceSim    = "LORA_FORCE_SIMULATION"
	envHealthPort      = "HEALTH_PORT"
	envLogLevel        = "LOG_LEVEL"
)

// Config represents the immutable gateway configuration. It is built once at
// startup and read-only thereafter.
type Config struct {
	GatewayID string `yaml:"gatewayId"`

	MQTTHost        string  `yaml:"mqttHost"`
	MQTTPort        int     `yaml:"mqttPort"`
	MQTTUsername    string  `yaml:"mqttUsername"`
	MQTTPassword    string  `yaml:"mqttPassword"`
	MQTTUseTLS      bool    `yaml:"mqttUseTls"`
	MQTTCACert      string  `yaml:"mqttCaCert"`
	MQTTClientCert  string  `yaml:"mqttClientCert"`
	MQTTClientKey   string  `yaml:"mqttClientKey"`
	MQTTTLSInsecure bool    `yaml:"mqttTlsInsecure"`
	BackoffBase     float64 `yaml:"backoffBase"`
	BackoffMax      float64 `yaml:"backoffMax"`

	QueueDBPath string `yaml:"queueDbPath"`

	EnableUDPSource bool   `yaml:"enableUdpSource"`
	UDPListenHost   string `yaml:"udpListenHost"`
	UDPListenPort   int    `yaml:"udpListenPort"`

	EnableLoRaSource    bool `yaml:"enableLoraSource"`
	LoRaForceSimulation bool `yaml:"loraForceSimulation"`

	HealthPort int    `yaml:"healthPort"`
	LogLevel   string `yaml:"logLevel"`
}

func defaultConfig() *Config {
	return &Config{
		GatewayID:        DefaultGatewayID,
		MQTTHost:         DefaultMQTTHost,
		MQTTPort:         DefaultMQTTPort,
		MQTTUseTLS:       true,
		BackoffBase:      DefaultBackoffBase,
		BackoffMax:       DefaultBackoffMax,
		EnableUDPSource:  true,
		UDPListenHost:    DefaultUDPListenHost,
		UDPListenPort:    DefaultUDPListenPort,
		EnableLoRaSource: true,
		HealthPort:       DefaultHealthPort,
		LogLevel:         DefaultLogLevel,
	}
}

// ParseBool reports whether the value is one of the accepted truthy literals
// (1, true, yes, on - not case sensitive). Everything else is false.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func lookupEnv(name, defVal string) string {
	if val, ok := os.LookupEnv(name); ok {
		return val
	}
	return defVal
}

func envBool(name string, defVal bool) bool {
	val, ok := os.LookupEnv(name)
	if !ok {
		return defVal
	}
	return ParseBool(val)
}

func envInt(name string, defVal int) (int, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return defVal, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return i, nil
}

func envFloat(name string, defVal float64) (float64, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return defVal, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// loadFile merges defaults from a YAML configuration file into c.
func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// FromEnv builds the gateway configuration. If GATEWAY_CONFIG_FILE names a
// YAML file its values replace the built-in defaults; environment variables
// override both. The queue DB parent directory is created if missing.
func FromEnv() (*Config, error) {
	c := defaultConfig()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}

	c.GatewayID = lookupEnv(envGatewayID, c.GatewayID)
	c.MQTTHost = lookupEnv(envMQTTHost, c.MQTTHost)
	c.MQTTUsername = lookupEnv(envMQTTUsername, c.MQTTUsername)
	c.MQTTPassword = lookupEnv(envMQTTPassword, c.MQTTPassword)
	c.MQTTUseTLS = envBool(envMQTTUseTLS, c.MQTTUseTLS)
	c.MQTTCACert = lookupEnv(envMQTTCACert, c.MQTTCACert)
	c.MQTTClientCert = lookupEnv(envMQTTClientCert, c.MQTTClientCert)
	c.MQTTClientKey = lookupEnv(envMQTTClientKey, c.MQTTClientKey)
	c.MQTTTLSInsecure = envBool(envMQTTTLSInsecure, c.MQTTTLSInsecure)
	c.EnableUDPSource = envBool(envEnableUDP, c.EnableUDPSource)
	c.UDPListenHost = lookupEnv(envUDPListenHost, c.UDPListenHost)
	c.EnableLoRaSource = envBool(envEnableLoRa, c.EnableLoRaSource)
	c.LoRaForceSimulation = envBool(envLoRaForceSim, c.LoRaForceSimulation)
	c.LogLevel = lookupEnv(envLogLevel, c.LogLevel)

	var err error
	if c.MQTTPort, err = envInt(envMQTTPort, c.MQTTPort); err != nil {
		return nil, err
	}
	if c.UDPListenPort, err = envInt(envUDPListenPort, c.UDPListenPort); err != nil {
		return nil, err
	}
	if c.HealthPort, err = envInt(envHealthPort, c.HealthPort); err != nil {
		return nil, err
	}
	if c.BackoffBase, err = envFloat(envBackoffBase, c.BackoffBase); err != nil {
		return nil, err
	}
	if c.BackoffMax, err = envFloat(envBackoffMax, c.BackoffMax); err != nil {
		return nil, err
	}

	if path := os.Getenv(envQueueDBPath); path != "" {
		c.QueueDBPath = path
	} else if c.QueueDBPath == "" {
		dir := lookupEnv(envQueueStorageDir, DefaultStorageDir)
		c.QueueDBPath = filepath.Join(dir, queueFilename)
	}
	if err := os.MkdirAll(filepath.Dir(c.QueueDBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create queue storage dir: %w", err)
	}

	return c, nil
}
