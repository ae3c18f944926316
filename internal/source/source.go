// Package source provides the gateway ingress sources.
package source

import (
	"fmt"

	"github.com/vineguard/edge-gateway/internal/telemetry"
)

// NodeKey identifies a field node globally within the gateway's world.
type NodeKey struct {
	OrgID  string
	SiteID string
	NodeID string
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrgID, k.SiteID, k.NodeID)
}

// Context carries transport-specific metadata attached to an uplink, e.g.
// the remote address for UDP or RSSI/SNR for LoRa.
type Context = map[string]any

// Callback is invoked by a source for every decoded uplink. It runs on the
// source's receive goroutine.
type Callback func(src PacketSource, payload telemetry.Payload, context Context)

// PacketSource is an abstract ingress producing telemetry payloads and
// accepting downlinks for nodes it has previously seen.
type PacketSource interface {
	// Name returns the source name recorded in the ingress context.
	Name() string
	// Start begins producing messages; it may spawn background goroutines.
	Start() error
	// Stop ceases producing and releases resources. It is idempotent.
	Stop() error
	// RegisterNode hints that the source saw this node with this context.
	RegisterNode(key NodeKey, context Context)
	// SendDownlink delivers payload to the node and reports success.
	SendDownlink(key NodeKey, payload []byte) bool
}

// base provides the default no-op RegisterNode and failing SendDownlink.
type base struct {
	name     string
	callback Callback
}

func (b *base) Name() string { return b.name }

func (b *base) RegisterNode(key NodeKey, context Context) {}

func (b *base) SendDownlink(key NodeKey, payload []byte) bool { return false }

func (b *base) dispatch(src PacketSource, payload telemetry.Payload, context Context) {
	if b.callback != nil {
		b.callback(src, payload, context)
	}
}
