// Command gateway runs the VineGuard edge gateway: it ingests telemetry from
// the field transports, publishes it to the cloud broker (buffering on local
// storage while offline), and routes downlink commands back to the nodes.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vineguard/edge-gateway/internal/config"
	"github.com/vineguard/edge-gateway/internal/gateway"
	"github.com/vineguard/edge-gateway/internal/logging"
	"github.com/vineguard/edge-gateway/internal/mqtt"
	"github.com/vineguard/edge-gateway/internal/queue"
	"github.com/vineguard/edge-gateway/internal/server"
)

// gatewayHolder breaks the construction cycle between the MQTT client (which
// needs a command handler) and the gateway (which needs the client).
type gatewayHolder struct {
	mu sync.Mutex
	gw *gateway.Gateway
}

func (h *gatewayHolder) set(gw *gateway.Gateway) {
	h.mu.Lock()
	h.gw = gw
	h.mu.Unlock()
}

func (h *gatewayHolder) onBrokerMessage(topic string, payload []byte) {
	h.mu.Lock()
	gw := h.gw
	h.mu.Unlock()
	if gw != nil {
		gw.OnBrokerMessage(topic, payload)
	}
}

func main() {
	godotenv.Load() // best effort; a missing .env is fine

	cfg, err := config.FromEnv()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	logging.Setup(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("gateway failed")
	}
}

func run(cfg *config.Config) error {
	q, err := queue.Open(cfg.QueueDBPath)
	if err != nil {
		return fmt.Errorf("open persistent queue: %w", err)
	}
	defer q.Close()

	holder := &gatewayHolder{}
	client, err := mqtt.New(cfg, holder.onBrokerMessage)
	if err != nil {
		return fmt.Errorf("build MQTT client: %w", err)
	}

	gw := gateway.New(cfg, q, client)
	holder.set(gw)

	health := server.New(cfg.HealthPort, func() (any, error) {
		return gw.BuildHealthStatus()
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	client.Start()
	gw.Start()
	if err := gw.StartSources(); err != nil {
		gw.StopSources()
		gw.Stop()
		client.Stop()
		return err
	}
	if err := health.Start(); err != nil {
		gw.StopSources()
		gw.Stop()
		client.Stop()
		return fmt.Errorf("start health server: %w", err)
	}

	log.WithField("gatewayId", cfg.GatewayID).Info("gateway running")
	<-sig
	log.Info("shutdown signal received")

	health.Stop()
	gw.StopSources()
	gw.Stop()
	client.Stop()
	return nil
}
