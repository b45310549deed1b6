package libp2p

import "fmt"

// Gossip topic naming for the synchronization core: every context gets
// its own state-delta topic (primary propagation path) and
// heartbeat topic (root-hash broadcast for divergence detection), scoped
// under a project-wide namespace so unrelated projects sharing bootstrap
// peers never cross-subscribe.
const topicNamespace = "/syncore"

// StateDeltaTopic returns the gossip topic a context's deltas are
// broadcast on.
func StateDeltaTopic(contextID string) string {
	return fmt.Sprintf("%s/context/%s/state-delta", topicNamespace, contextID)
}

// HeartbeatTopic returns the gossip topic a context's root-hash
// heartbeats are broadcast on.
func HeartbeatTopic(contextID string) string {
	return fmt.Sprintf("%s/context/%s/heartbeat", topicNamespace, contextID)
}

// ContextTopics returns both topics for a context, the pair a node
// subscribes to when it starts tracking that context.
func ContextTopics(contextID string) []string {
	return []string{StateDeltaTopic(contextID), HeartbeatTopic(contextID)}
}
