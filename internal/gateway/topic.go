package gateway

import (
	"fmt"
	"strings"

	"github.com/vineguard/edge-gateway/internal/source"
)

const (
	sep         = "/"
	singleLevel = "+"

	topicRoot      = "vineguard"
	classTelemetry = "telemetry"
	classCmd       = "cmd"
)

// CmdTopicFilter matches downlink commands for every node.
var CmdTopicFilter = joinTopic(topicRoot, singleLevel, singleLevel, singleLevel, classCmd)

func joinTopic(levels ...string) string { return strings.Join(levels, sep) }

func telemetryTopic(key source.NodeKey) string {
	return joinTopic(topicRoot, key.OrgID, key.SiteID, key.NodeID, classTelemetry)
}

// parseCmdTopic extracts the node key from a command topic of the form
// vineguard/{orgId}/{siteId}/{nodeId}/cmd.
func parseCmdTopic(topic string) (source.NodeKey, error) {
	parts := strings.Split(topic, sep)
	if len(parts) != 5 {
		return source.NodeKey{}, fmt.Errorf("unexpected command topic %q: want 5 levels, got %d", topic, len(parts))
	}
	if parts[4] != classCmd {
		return source.NodeKey{}, fmt.Errorf("unexpected command topic %q: trailing level is not %q", topic, classCmd)
	}
	return source.NodeKey{OrgID: parts[1], SiteID: parts[2], NodeID: parts[3]}, nil
}
