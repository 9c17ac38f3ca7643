package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the mesh coordinator.
//
// Bridge topics use the scheme graylogic/mesh/{bridge}/{category}/{id}; core
// topics live under graylogic/mesh/core.
const (
	// TopicPrefixMesh is the base for all mesh topics.
	TopicPrefixMesh = "graylogic/mesh"

	// TopicPrefixCore is the base for topics published by the core itself.
	TopicPrefixCore = "graylogic/mesh/core"
)

// Topics provides builders for mesh MQTT topics.
//
//	topics := mqtt.Topics{}
//	req := topics.BridgeRequest("radio0", "5f0c...")
//	// Returns: "graylogic/mesh/radio0/request/5f0c..."
type Topics struct{}

// BridgeRequest returns the topic for a request sent to a radio bridge.
//
// Example: graylogic/mesh/radio0/request/5f0c2a2e-...
func (Topics) BridgeRequest(bridgeID, requestID string) string {
	return fmt.Sprintf("%s/%s/request/%s", TopicPrefixMesh, bridgeID, requestID)
}

// BridgeResponse returns the topic for the bridge's reply to a request.
//
// Example: graylogic/mesh/radio0/response/5f0c2a2e-...
func (Topics) BridgeResponse(bridgeID, requestID string) string {
	return fmt.Sprintf("%s/%s/response/%s", TopicPrefixMesh, bridgeID, requestID)
}

// BridgeEvent returns the topic for an unsolicited network event.
//
// Example: graylogic/mesh/radio0/event/join
func (Topics) BridgeEvent(bridgeID, kind string) string {
	return fmt.Sprintf("%s/%s/event/%s", TopicPrefixMesh, bridgeID, kind)
}

// BridgeResponses returns a pattern matching every response from one bridge.
//
// Pattern: graylogic/mesh/radio0/response/+
func (Topics) BridgeResponses(bridgeID string) string {
	return fmt.Sprintf("%s/%s/response/+", TopicPrefixMesh, bridgeID)
}

// BridgeEvents returns a pattern matching every event from one bridge.
//
// Pattern: graylogic/mesh/radio0/event/+
func (Topics) BridgeEvents(bridgeID string) string {
	return fmt.Sprintf("%s/%s/event/+", TopicPrefixMesh, bridgeID)
}

// CoreEvent returns the topic a lifecycle event is republished on.
//
// Example: graylogic/mesh/core/event/device_joined
func (Topics) CoreEvent(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, kind)
}

// CoreStatus returns the retained core status topic, also used for the LWT.
//
// Example: graylogic/mesh/core/status
func (Topics) CoreStatus() string {
	return TopicPrefixCore + "/status"
}

// AllCoreEvents returns a pattern matching every republished lifecycle event.
//
// Pattern: graylogic/mesh/core/event/+
func (Topics) AllCoreEvents() string {
	return TopicPrefixCore + "/event/+"
}

// AllTopics returns a pattern matching all mesh traffic.
//
// Pattern: graylogic/mesh/#
func (Topics) AllTopics() string {
	return TopicPrefixMesh + "/#"
}

// LastSegment returns the final level of a topic, which carries the request
// ID on response topics and the kind on event topics.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
