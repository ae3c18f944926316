// Package mqtt wraps the paho client for the cloud broker connection.
package mqtt

// paho mqtt 3.1 keeps per-session subscription state with clean session
// disabled, which the gateway relies on across reconnects.

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/vineguard/edge-gateway/internal/config"
)

const (
	// DefaultQoS is the at-least-once delivery level used for all traffic.
	DefaultQoS byte = 1

	keepAlive      = 60 * time.Second
	disconnectWait = 250 // waiting time for client disconnect in ms
)

// newPahoClient is a seam for tests.
var newPahoClient = MQTT.NewClient

// MessageHandler receives inbound broker messages.
type MessageHandler func(topic string, payload []byte)

// ConnectionListener is invoked with true on connect and false on disconnect.
// It runs on the paho network goroutine and must not block.
type ConnectionListener = func(connected bool)

// Client tracks the broker connection state and gates publishes on it.
type Client struct {
	cfg    *config.Config
	client MQTT.Client

	mu        sync.Mutex
	connected bool

	lmu       sync.Mutex
	listeners []ConnectionListener

	smu  sync.Mutex
	subs map[string]byte

	onMessage MessageHandler
	lg        *log.Entry
}

// New builds the client. onMessage is invoked for every message received on
// a subscribed topic.
func New(cfg *config.Config, onMessage MessageHandler) (*Client, error) {
	c := &Client{
		cfg:       cfg,
		subs:      make(map[string]byte),
		onMessage: onMessage,
		lg:        log.WithField("component", "mqtt"),
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.GatewayID)
	opts.SetCleanSession(false)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(secondsToDuration(cfg.BackoffBase))
	opts.SetMaxReconnectInterval(secondsToDuration(cfg.BackoffMax))
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)
	opts.SetDefaultPublishHandler(c.handleMessage)

	if cfg.MQTTUseTLS {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = newPahoClient(opts)
	return c, nil
}

func brokerURL(cfg *config.Config) string {
	scheme := "tcp"
	if cfg.MQTTUseTLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(cfg.MQTTHost, strconv.Itoa(cfg.MQTTPort))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newTLSConfig(cfg *config.Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.MQTTCACert != "" {
		pem, err := os.ReadFile(cfg.MQTTCACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA certificate %s contains no valid certificates", cfg.MQTTCACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.MQTTClientCert != "" && cfg.MQTTClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.MQTTClientCert, cfg.MQTTClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.MQTTTLSInsecure {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// Start initiates the network loop with a non-blocking connect attempt. The
// configured connect retry keeps trying if the broker is unreachable.
func (c *Client) Start() {
	c.lg.WithFields(log.Fields{
		"host": c.cfg.MQTTHost,
		"port": c.cfg.MQTTPort,
		"tls":  c.cfg.MQTTUseTLS,
	}).Info("connecting to MQTT broker")
	c.client.Connect()
}

// Stop halts the network loop and disconnects cleanly.
func (c *Client) Stop() {
	c.client.Disconnect(disconnectWait)
	c.lg.Info("MQTT client stopped")
}

// Publish hands a QoS 1 message to the client without waiting for the broker
// ack. It returns false when disconnected or when the client reports an
// immediate error; the caller queues the message instead.
func (c *Client) Publish(topic string, payload []byte) bool {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false
	}
	token := c.client.Publish(topic, DefaultQoS, false, payload)
	c.mu.Unlock()

	if err := token.Error(); err != nil {
		c.lg.WithError(err).WithField("topic", topic).Warn("MQTT publish returned error")
		return false
	}
	return true
}

// Subscribe registers a QoS 1 subscription. When disconnected the
// subscription is deferred and applied on the next connect.
func (c *Client) Subscribe(topic string) {
	c.smu.Lock()
	c.subs[topic] = DefaultQoS
	c.smu.Unlock()

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		c.lg.WithField("topic", topic).Info("subscription deferred until connect")
		return
	}
	c.subscribe(topic, DefaultQoS)
}

func (c *Client) subscribe(topic string, qos byte) {
	if token := c.client.Subscribe(topic, qos, nil); token.Error() != nil {
		c.lg.WithError(token.Error()).WithField("topic", topic).Warn("subscribe failed")
	} else {
		c.lg.WithField("topic", topic).Info("subscribed to topic")
	}
}

// AddConnectionListener registers a connection state callback. The listener
// list is append-only after startup.
func (c *Client) AddConnectionListener(cb ConnectionListener) {
	c.lmu.Lock()
	c.listeners = append(c.listeners, cb)
	c.lmu.Unlock()
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) handleConnect(client MQTT.Client) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.lg.Info("connected to MQTT broker")

	c.smu.Lock()
	for topic, qos := range c.subs {
		c.subscribe(topic, qos)
	}
	c.smu.Unlock()

	c.notifyListeners(true)
}

func (c *Client) handleConnectionLost(client MQTT.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.lg.WithError(err).Warn("disconnected from MQTT broker")

	c.notifyListeners(false)
}

func (c *Client) handleMessage(client MQTT.Client, msg MQTT.Message) {
	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.lg.WithFields(log.Fields{"topic": msg.Topic(), "panic": r}).Error("message handler panicked")
		}
	}()
	c.onMessage(msg.Topic(), msg.Payload())
}

// notifyListeners runs on the paho network goroutine; a panicking listener
// must not break the others or the loop.
func (c *Client) notifyListeners(connected bool) {
	c.lmu.Lock()
	listeners := c.listeners
	c.lmu.Unlock()

	for _, cb := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.lg.WithField("panic", r).Error("connection listener panicked")
				}
			}()
			cb(connected)
		}()
	}
}
