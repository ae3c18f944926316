package source

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vineguard/edge-gateway/internal/telemetry"
)

const udpReadBufferSize = 64 * 1024

// UDPSource consumes UTF-8 JSON datagrams from lab and simulator clients.
// Downlinks are sent back to the last remote address seen for a node.
type UDPSource struct {
	base
	host string
	port int

	mu      sync.RWMutex
	conn    *net.UDPConn
	remotes map[NodeKey]*net.UDPAddr
	stopped bool

	wg sync.WaitGroup
	lg *log.Entry
}

// NewUDPSource returns a UDP JSON source bound to host:port on Start.
func NewUDPSource(host string, port int, callback Callback) *UDPSource {
	return &UDPSource{
		base:    base{name: "udp", callback: callback},
		host:    host,
		port:    port,
		remotes: make(map[NodeKey]*net.UDPAddr),
		lg:      log.WithField("source", "udp"),
	}
}

// Start binds the datagram socket and spawns the receive loop.
func (s *UDPSource) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("resolve UDP listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.stopped = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn)

	s.lg.WithField("addr", conn.LocalAddr().String()).Info("UDP source started")
	return nil
}

// Stop closes the socket and waits for the receive loop to exit.
func (s *UDPSource) Stop() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.stopped = true
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Close()
	s.wg.Wait()
	s.lg.Info("UDP source stopped")
	return nil
}

// LocalAddr returns the bound address, or nil when the source is stopped.
func (s *UDPSource) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPSource) readLoop(conn *net.UDPConn) {
	defer s.wg.Done()

	buf := make([]byte, udpReadBufferSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.RLock()
			stopped := s.stopped
			s.mu.RUnlock()
			if stopped {
				return
			}
			s.lg.WithError(err).Error("UDP read failed")
			continue
		}
		s.handleDatagram(buf[:n], remote)
	}
}

func (s *UDPSource) handleDatagram(data []byte, remote *net.UDPAddr) {
	var payload telemetry.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.lg.WithField("remote", remote.String()).Warn("dropping invalid JSON payload")
		return
	}
	context := Context{"transport": "udp", "remote": remote.String()}
	s.dispatch(s, payload, context)
}

// RegisterNode remembers the remote address for a node, overwriting any
// previous one.
func (s *UDPSource) RegisterNode(key NodeKey, context Context) {
	remote, ok := context["remote"].(string)
	if !ok || remote == "" {
		return
	}
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		s.lg.WithFields(log.Fields{"node": key.String(), "remote": remote}).Warn("unresolvable node address")
		return
	}
	s.mu.Lock()
	s.remotes[key] = addr
	s.mu.Unlock()
}

// SendDownlink sends the raw payload to the last remote seen for the node.
func (s *UDPSource) SendDownlink(key NodeKey, payload []byte) bool {
	s.mu.RLock()
	conn := s.conn
	addr := s.remotes[key]
	s.mu.RUnlock()

	if conn == nil {
		s.lg.WithField("node", key.String()).Warn("UDP transport not ready for downlink")
		return false
	}
	if addr == nil {
		s.lg.WithField("node", key.String()).Warn("no UDP endpoint known for node")
		return false
	}
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		s.lg.WithError(err).WithField("node", key.String()).Warn("UDP downlink failed")
		return false
	}
	s.lg.WithFields(log.Fields{"node": key.String(), "remote": addr.String()}).Info("sent UDP downlink")
	return true
}
