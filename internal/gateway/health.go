package gateway

import "time"

// HealthStatus is the point-in-time snapshot served by the health endpoint.
type HealthStatus struct {
	Status              string  `json:"status"`
	MQTTConnected       bool    `json:"mqttConnected"`
	QueuedMessages      int     `json:"queuedMessages"`
	LastMessageReceived *string `json:"lastMessageReceived"`
	LastPublishSuccess  *string `json:"lastPublishSuccess"`
}

// BuildHealthStatus reports the gateway state. The status is "ok" while the
// broker connection is up and "degraded" otherwise.
func (gw *Gateway) BuildHealthStatus() (HealthStatus, error) {
	queued, err := gw.queue.Count()
	if err != nil {
		return HealthStatus{}, err
	}

	gw.mu.Lock()
	connected := gw.mqttConnected
	lastMessage := gw.lastMessageAt
	lastPublish := gw.lastPublishSuccess
	gw.mu.Unlock()

	status := "degraded"
	if connected {
		status = "ok"
	}
	return HealthStatus{
		Status:              status,
		MQTTConnected:       connected,
		QueuedMessages:      queued,
		LastMessageReceived: isoOrNil(lastMessage),
		LastPublishSuccess:  isoOrNil(lastPublish),
	}, nil
}

func isoOrNil(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
