package source

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vineguard/edge-gateway/internal/telemetry"
)

type capturedMessage struct {
	payload telemetry.Payload
	context Context
}

type captureSink struct {
	mu       sync.Mutex
	messages []capturedMessage
	notify   chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{notify: make(chan struct{}, 16)}
}

func (c *captureSink) callback(src PacketSource, payload telemetry.Payload, context Context) {
	c.mu.Lock()
	c.messages = append(c.messages, capturedMessage{payload: payload, context: context})
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *captureSink) wait(t *testing.T) capturedMessage {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func startUDPSource(t *testing.T, sink *captureSink) *UDPSource {
	t.Helper()
	s := NewUDPSource("127.0.0.1", 0, sink.callback)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func sendDatagram(t *testing.T, addr net.Addr, data []byte) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = conn.Write(data)
	require.NoError(t, err)
	return conn
}

func TestUDPSourceDispatch(t *testing.T) {
	sink := newCaptureSink()
	s := startUDPSource(t, sink)

	sendDatagram(t, s.LocalAddr(), []byte(`{"orgId":"o","siteId":"s","nodeId":"n","timestamp":"2024-01-01T00:00:00Z","metrics":{"t":21.0}}`))

	msg := sink.wait(t)
	assert.Equal(t, "o", msg.payload["orgId"])
	assert.Equal(t, "udp", msg.context["transport"])
	assert.NotEmpty(t, msg.context["remote"])
}

func TestUDPSourceDropsInvalidJSON(t *testing.T) {
	sink := newCaptureSink()
	s := startUDPSource(t, sink)

	sendDatagram(t, s.LocalAddr(), []byte("not json"))
	sendDatagram(t, s.LocalAddr(), []byte(`{"orgId":"o","siteId":"s","nodeId":"n","timestamp":"2024-01-01T00:00:00Z","metrics":{"t":1.0}}`))

	msg := sink.wait(t)
	assert.Equal(t, "o", msg.payload["orgId"])
	assert.Equal(t, 1, sink.count())
}

func TestUDPSourceDownlink(t *testing.T) {
	sink := newCaptureSink()
	s := startUDPSource(t, sink)

	conn := sendDatagram(t, s.LocalAddr(), []byte(`{"orgId":"o","siteId":"s","nodeId":"n","timestamp":"2024-01-01T00:00:00Z","metrics":{"t":1.0}}`))
	msg := sink.wait(t)

	key := NodeKey{OrgID: "o", SiteID: "s", NodeID: "n"}
	s.RegisterNode(key, msg.context)

	require.True(t, s.SendDownlink(key, []byte("PING")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(buf[:n]))
}

func TestUDPSourceDownlinkUnknownNode(t *testing.T) {
	sink := newCaptureSink()
	s := startUDPSource(t, sink)

	assert.False(t, s.SendDownlink(NodeKey{OrgID: "x", SiteID: "y", NodeID: "z"}, []byte("PING")))
}

func TestUDPSourceStopIdempotent(t *testing.T) {
	sink := newCaptureSink()
	s := NewUDPSource("127.0.0.1", 0, sink.callback)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.SendDownlink(NodeKey{OrgID: "o", SiteID: "s", NodeID: "n"}, []byte("PING")))
}
