// Package telemetry validates and enriches node telemetry payloads.
package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Payload is a decoded telemetry JSON object.
type Payload = map[string]any

// Required payload fields.
const (
	FieldOrgID     = "orgId"
	FieldSiteID    = "siteId"
	FieldNodeID    = "nodeId"
	FieldTimestamp = "timestamp"
	FieldMetrics   = "metrics"
)

var requiredStringFields = []string{FieldNodeID, FieldOrgID, FieldSiteID}

// timestampLayouts are the accepted ISO-8601 shapes, with and without zone.
var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

// ValidationError reports why a payload was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func rejectf(format string, v ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, v...)}
}

// Validate checks a payload against the telemetry schema and returns it
// unchanged on success. It never partially accepts: either the whole payload
// is valid or a ValidationError describes the first violation. Fields beyond
// the schema are preserved verbatim.
func Validate(payload Payload) (Payload, error) {
	if payload == nil {
		return nil, rejectf("telemetry payload must be a JSON object")
	}

	for _, field := range requiredStringFields {
		value, ok := payload[field].(string)
		if !ok || strings.TrimSpace(value) == "" {
			return nil, rejectf("field %q must be a non-empty string", field)
		}
	}

	ts, ok := payload[FieldTimestamp].(string)
	if !ok || ts == "" {
		return nil, rejectf("telemetry payload must include an ISO8601 %q", FieldTimestamp)
	}
	if !validTimestamp(ts) {
		return nil, rejectf("telemetry timestamp %q is not a valid ISO8601 string", ts)
	}

	metrics, ok := payload[FieldMetrics].(map[string]any)
	if !ok || len(metrics) == 0 {
		return nil, rejectf("telemetry payload must include a non-empty %q object", FieldMetrics)
	}
	for key, value := range metrics {
		if key == "" {
			return nil, rejectf("metric keys must be non-empty strings")
		}
		if !numeric(value) {
			return nil, rejectf("metric %q must be numeric", key)
		}
	}

	return payload, nil
}

func validTimestamp(value string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func numeric(value any) bool {
	switch value.(type) {
	case float64, float32, int, int64:
		return true
	default:
		return false
	}
}
