package source

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vineguard/edge-gateway/internal/telemetry"
)

// LoRaDriver abstracts a LoRa concentrator. Recv is non-blocking and returns
// an empty slice when no frame is pending.
type LoRaDriver interface {
	Recv() ([]byte, error)
	Send(payload []byte) error
	Close() error
}

const hwPollInterval = 100 * time.Millisecond

var simNodes = []string{"lora-node-1", "lora-node-2"}

// LoRaSource consumes demodulated frames from a concentrator driver, or runs
// a simulation loop emitting plausible vineyard telemetry when no hardware
// is attached.
type LoRaSource struct {
	base
	driver    LoRaDriver
	simulated bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex

	rnd *rand.Rand
	lg  *log.Entry
}

// NewLoRaSource returns a LoRa source. A nil driver or forceSimulation=true
// selects the simulation loop.
func NewLoRaSource(driver LoRaDriver, forceSimulation bool, callback Callback) *LoRaSource {
	simulated := forceSimulation || driver == nil
	s := &LoRaSource{
		base:      base{name: "lora", callback: callback},
		driver:    driver,
		simulated: simulated,
		stopCh:    make(chan struct{}),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		lg:        log.WithField("source", "lora"),
	}
	if simulated && driver != nil {
		s.driver = nil // forced simulation ignores the hardware
	}
	return s
}

// Simulated reports whether the source runs the simulation loop.
func (s *LoRaSource) Simulated() bool { return s.simulated }

// Start spawns the receive loop.
func (s *LoRaSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	s.wg.Add(1)
	if s.simulated {
		go s.simulationLoop()
		s.lg.Info("LoRa simulation started")
	} else {
		go s.hardwareLoop()
		s.lg.Info("LoRa hardware loop started")
	}
	return nil
}

// Stop cancels the receive loop and closes the driver.
func (s *LoRaSource) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.driver != nil {
			if err := s.driver.Close(); err != nil {
				s.lg.WithError(err).Error("failed to close LoRa driver")
			}
		}
	})
	return nil
}

func (s *LoRaSource) simulationLoop() {
	defer s.wg.Done()

	for {
		node := simNodes[s.rnd.Intn(len(simNodes))]
		payload := telemetry.Payload{
			"nodeId":    node,
			"orgId":     "sim-org",
			"siteId":    "sim-site",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"metrics": map[string]any{
				"temperature": round2(10.0 + s.rnd.Float64()*22.0),
				"humidity":    round2(40.0 + s.rnd.Float64()*30.0),
			},
		}
		context := Context{
			"transport": "lora",
			"rssi":      -110 + s.rnd.Intn(41),
			"snr":       round2(-12.0 + s.rnd.Float64()*17.0),
			"simulated": true,
		}
		s.dispatch(s, payload, context)

		delay := time.Duration(5000+s.rnd.Intn(5000)) * time.Millisecond
		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
	}
}

func (s *LoRaSource) hardwareLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		raw, err := s.driver.Recv()
		if err != nil {
			s.lg.WithError(err).Error("LoRa receive failed")
			raw = nil
		}
		if len(raw) == 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(hwPollInterval):
			}
			continue
		}

		var payload telemetry.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.lg.Warn("received invalid LoRa payload")
			continue
		}
		context := Context{"transport": "lora", "simulated": false}
		s.dispatch(s, payload, context)
	}
}

// SendDownlink hands the payload to the driver, or logs and succeeds in
// simulation mode.
func (s *LoRaSource) SendDownlink(key NodeKey, payload []byte) bool {
	if s.simulated {
		s.lg.WithFields(log.Fields{"node": key.String(), "payload": string(payload)}).Info("simulated LoRa downlink")
		return true
	}
	if err := s.driver.Send(payload); err != nil {
		s.lg.WithError(err).WithField("node", key.String()).Error("failed to send LoRa downlink")
		return false
	}
	s.lg.WithField("node", key.String()).Info("LoRa downlink queued")
	return true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
