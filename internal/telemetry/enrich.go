package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// Enrichment fields added by the gateway.
const (
	FieldGatewayID  = "gatewayId"
	FieldReceivedAt = "receivedAt"
	FieldIngress    = "ingress"
	FieldSource     = "source"
)

// Enrich merges a validated payload with the gateway identity, receive time
// and ingress context, and serialises the result as compact JSON with
// lexicographically sorted keys. Identical inputs produce byte-identical
// output.
func Enrich(payload Payload, gatewayID string, receivedAt time.Time, ingress map[string]any) ([]byte, error) {
	enriched := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched[FieldGatewayID] = gatewayID
	enriched[FieldReceivedAt] = receivedAt.UTC().Format(time.RFC3339Nano)
	enriched[FieldIngress] = ingress

	// encoding/json marshals map keys in sorted order, which gives the
	// stable byte-equal serialisation the downstream dedupe relies on.
	b, err := json.Marshal(enriched)
	if err != nil {
		return nil, fmt.Errorf("serialise enriched telemetry: %w", err)
	}
	return b, nil
}
