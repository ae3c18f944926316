// Package gateway provides the VineGuard edge gateway orchestration.
package gateway

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/vineguard/edge-gateway/internal/config"
	"github.com/vineguard/edge-gateway/internal/queue"
	"github.com/vineguard/edge-gateway/internal/source"
	"github.com/vineguard/edge-gateway/internal/telemetry"
)

// DefChanSize defines the default channel size for broker-side events.
const DefChanSize = 100

// Publisher is the cloud broker surface the gateway depends on.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) bool
	Subscribe(topic string)
	AddConnectionListener(cb func(connected bool))
	IsConnected() bool
}

type command struct {
	topic   string
	payload []byte
}

// Gateway fans in source uplinks, validates, enriches and publishes them (or
// queues while offline), flushes the queue on reconnect, and routes downlink
// commands back to the owning source.
type Gateway struct {
	cfg   *config.Config
	queue *queue.Queue
	mqtt  Publisher

	sources map[string]source.PacketSource

	mu                 sync.Mutex
	nodeSources        map[source.NodeKey]source.PacketSource
	mqttConnected      bool
	lastMessageAt      time.Time
	lastPublishSuccess time.Time

	flushCh chan struct{}
	cmdCh   chan command
	stopCh  chan struct{}
	wg      sync.WaitGroup

	lg *log.Entry
}

// New wires the gateway to its collaborators: it registers itself as a
// connection listener and subscribes to the downlink command topic.
func New(cfg *config.Config, q *queue.Queue, pub Publisher) *Gateway {
	gw := &Gateway{
		cfg:         cfg,
		queue:       q,
		mqtt:        pub,
		sources:     make(map[string]source.PacketSource),
		nodeSources: make(map[source.NodeKey]source.PacketSource),
		flushCh:     make(chan struct{}, 1),
		cmdCh:       make(chan command, DefChanSize),
		stopCh:      make(chan struct{}),
		lg:          log.WithField("component", "gateway"),
	}

	pub.AddConnectionListener(gw.onConnectionChange)
	pub.Subscribe(CmdTopicFilter)
	return gw
}

// Start spawns the event goroutine draining flush triggers and commands.
func (gw *Gateway) Start() {
	gw.wg.Add(1)
	go gw.run()
}

// Stop halts the event goroutine.
func (gw *Gateway) Stop() {
	close(gw.stopCh)
	gw.wg.Wait()
}

func (gw *Gateway) run() {
	defer gw.wg.Done()
	for {
		select {
		case <-gw.stopCh:
			return
		case <-gw.flushCh:
			gw.flushQueue()
		case cmd := <-gw.cmdCh:
			gw.handleCommand(cmd.topic, cmd.payload)
		}
	}
}

// StartSources creates and starts the configured ingress sources. A source
// that fails to start is a startup failure.
func (gw *Gateway) StartSources() error {
	if gw.cfg.EnableUDPSource {
		udp := source.NewUDPSource(gw.cfg.UDPListenHost, gw.cfg.UDPListenPort, gw.HandleMessage)
		if err := udp.Start(); err != nil {
			return fmt.Errorf("start UDP source: %w", err)
		}
		gw.sources[udp.Name()] = udp
	}

	if gw.cfg.EnableLoRaSource {
		lora := source.NewLoRaSource(nil, gw.cfg.LoRaForceSimulation, gw.HandleMessage)
		if err := lora.Start(); err != nil {
			return fmt.Errorf("start LoRa source: %w", err)
		}
		gw.sources[lora.Name()] = lora
	}

	return nil
}

// StopSources stops all running sources. Errors are logged, not fatal.
func (gw *Gateway) StopSources() {
	for name, src := range gw.sources {
		if err := src.Stop(); err != nil {
			gw.lg.WithError(err).WithField("source", name).Error("failed to stop source")
		}
	}
	gw.sources = make(map[string]source.PacketSource)
}

// Sources returns the running sources.
func (gw *Gateway) Sources() []source.PacketSource {
	return maps.Values(gw.sources)
}

// HandleMessage is the uplink path. It runs on the calling source's
// goroutine: validate, enrich, record the return route, then publish or
// queue.
func (gw *Gateway) HandleMessage(src source.PacketSource, payload telemetry.Payload, context source.Context) {
	validated, err := telemetry.Validate(payload)
	if err != nil {
		gw.lg.WithFields(log.Fields{"source": src.Name(), "error": err.Error()}).Warn("dropping telemetry due to validation failure")
		return
	}

	ingress := make(source.Context, len(context)+1)
	for k, v := range context {
		ingress[k] = v
	}
	if _, ok := ingress[telemetry.FieldSource]; !ok {
		ingress[telemetry.FieldSource] = src.Name()
	}

	now := time.Now().UTC()
	message, err := telemetry.Enrich(validated, gw.cfg.GatewayID, now, ingress)
	if err != nil {
		gw.lg.WithError(err).Error("failed to serialise telemetry")
		return
	}

	key := source.NodeKey{
		OrgID:  validated[telemetry.FieldOrgID].(string),
		SiteID: validated[telemetry.FieldSiteID].(string),
		NodeID: validated[telemetry.FieldNodeID].(string),
	}
	topic := telemetryTopic(key)

	src.RegisterNode(key, context)
	gw.mu.Lock()
	gw.nodeSources[key] = src
	gw.lastMessageAt = now
	gw.mu.Unlock()

	if gw.mqtt.Publish(topic, message) {
		gw.mu.Lock()
		gw.lastPublishSuccess = time.Now().UTC()
		gw.mu.Unlock()
		return
	}

	gw.lg.WithField("topic", topic).Warn("MQTT offline, queueing telemetry")
	if err := gw.queue.Enqueue(topic, string(message)); err != nil {
		gw.lg.WithError(err).WithField("topic", topic).Error("failed to queue telemetry, message lost")
	}
}

// OnBrokerMessage accepts a downlink command from the broker. It runs on the
// MQTT network goroutine and only schedules work.
func (gw *Gateway) OnBrokerMessage(topic string, payload []byte) {
	select {
	case gw.cmdCh <- command{topic: topic, payload: payload}:
	default:
		gw.lg.WithField("topic", topic).Warn("command channel full, dropping command")
	}
}

// onConnectionChange runs on the MQTT network goroutine and must not block:
// it records the state and schedules a flush on connect.
func (gw *Gateway) onConnectionChange(connected bool) {
	gw.mu.Lock()
	gw.mqttConnected = connected
	gw.mu.Unlock()

	if !connected {
		return
	}
	select {
	case gw.flushCh <- struct{}{}:
	default: // a flush is already pending
	}
}

// flushQueue drains the persistent queue through the broker in id order.
// It runs only on the event goroutine, so drains never overlap. Items are
// removed only after publish reports success; the first failed publish stops
// the drain until the next connect.
func (gw *Gateway) flushQueue() {
	for gw.mqtt.IsConnected() {
		batch, err := gw.queue.GetBatch(0)
		if err != nil {
			gw.lg.WithError(err).Error("failed to read queue batch")
			return
		}
		if len(batch) == 0 {
			return
		}

		var successIDs []int64
		for _, item := range batch {
			if !gw.mqtt.Publish(item.Topic, []byte(item.Payload)) {
				gw.lg.WithField("id", item.ID).Warn("publish failed while flushing queue")
				break
			}
			successIDs = append(successIDs, item.ID)
		}

		if len(successIDs) == 0 {
			return
		}
		if err := gw.queue.Remove(successIDs); err != nil {
			gw.lg.WithError(err).Error("failed to remove flushed items")
			return
		}
		gw.mu.Lock()
		gw.lastPublishSuccess = time.Now().UTC()
		gw.mu.Unlock()

		if len(successIDs) < len(batch) {
			return
		}
	}
}

// handleCommand routes a downlink to the source of the node's most recent
// uplink.
func (gw *Gateway) handleCommand(topic string, payload []byte) {
	key, err := parseCmdTopic(topic)
	if err != nil {
		gw.lg.WithError(err).Warn("dropping command")
		return
	}

	gw.mu.Lock()
	src := gw.nodeSources[key]
	gw.mu.Unlock()
	if src == nil {
		gw.lg.WithField("topic", topic).Warn("no known source for command")
		return
	}

	if src.SendDownlink(key, payload) {
		gw.lg.WithFields(log.Fields{"topic": topic, "source": src.Name()}).Info("forwarded command to source")
	} else {
		gw.lg.WithFields(log.Fields{"topic": topic, "source": src.Name()}).Warn("failed to forward command")
	}
}
