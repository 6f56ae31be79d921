package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// TopicKind identifies the scope of a broadcast topic
type TopicKind string

const (
	// TopicTenant scopes a broadcast to every client of one organization
	TopicTenant TopicKind = "tenant"
	// TopicVehicle scopes a broadcast to watchers of a single vehicle
	TopicVehicle TopicKind = "vehicle"
	// TopicGeofence scopes a broadcast to watchers of a single geofence
	TopicGeofence TopicKind = "geofence"
)

// Topic is a named broadcast scope clients subscribe to
type Topic struct {
	Kind TopicKind
	ID   uint
}

// TenantTopic returns the tenant-wide topic for an organization
func TenantTopic(orgID uint) Topic {
	return Topic{Kind: TopicTenant, ID: orgID}
}

// VehicleTopic returns the topic for a single vehicle
func VehicleTopic(vehicleID uint) Topic {
	return Topic{Kind: TopicVehicle, ID: vehicleID}
}

// GeofenceTopic returns the topic for a single geofence
func GeofenceTopic(geofenceID uint) Topic {
	return Topic{Kind: TopicGeofence, ID: geofenceID}
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.ID)
}

// Subscriber is a transport connection the hub can deliver frames to.
// Deliver must not block: implementations report false when the frame was
// dropped because the connection could not accept it in time.
type Subscriber interface {
	ID() string
	Deliver(frame []byte) bool
}

// Envelope wraps every outbound frame with its message type so clients can
// demultiplex position updates and alerts on one socket
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the live mapping from topics to subscribed connections and
// fans messages out to them.
//
// Membership is owned exclusively by the hub: the transport layer only ever
// mutates it through Join, Leave, and LeaveAll. Fan-out takes a snapshot of
// the member set and delivers outside the lock, so a slow subscriber never
// blocks membership changes or delivery to its peers. A connection
// disconnecting during fan-out may or may not receive that one frame, but
// receives nothing after LeaveAll returns.
type Hub struct {
	mu      sync.RWMutex
	topics  map[Topic]map[string]Subscriber
	reverse map[string]map[Topic]struct{}

	log *logrus.Logger
}

// NewHub creates an empty hub
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		topics:  make(map[Topic]map[string]Subscriber),
		reverse: make(map[string]map[Topic]struct{}),
		log:     log,
	}
}

// Join adds the subscriber to a topic. Joining a topic twice has the same
// effect as joining it once.
func (h *Hub) Join(sub Subscriber, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]Subscriber)
		h.topics[topic] = members
	}
	members[sub.ID()] = sub

	topics, ok := h.reverse[sub.ID()]
	if !ok {
		topics = make(map[Topic]struct{})
		h.reverse[sub.ID()] = topics
	}
	topics[topic] = struct{}{}
}

// Leave removes the subscriber from a topic. Leaving a topic that was never
// joined is a no-op.
func (h *Hub) Leave(sub Subscriber, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(sub.ID(), topic)
}

// LeaveAll removes the subscriber from every topic it belongs to. Invoked
// when a transport connection closes, regardless of which joins it performed.
func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.reverse[sub.ID()] {
		h.removeLocked(sub.ID(), topic)
	}
	delete(h.reverse, sub.ID())
}

// removeLocked removes one membership entry. Caller must hold h.mu.
func (h *Hub) removeLocked(subID string, topic Topic) {
	if members, ok := h.topics[topic]; ok {
		delete(members, subID)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	if topics, ok := h.reverse[subID]; ok {
		delete(topics, topic)
	}
}

// Members returns a snapshot of the topic's current subscribers
func (h *Hub) Members(topic Topic) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.topics[topic]
	snapshot := make([]Subscriber, 0, len(members))
	for _, sub := range members {
		snapshot = append(snapshot, sub)
	}
	return snapshot
}

// Publish marshals the message once and delivers it to every current
// subscriber of the topic. Delivery failures are isolated per subscriber:
// a dropped frame is logged at debug and never fails the broadcast.
// Returns the number of subscribers the frame was handed to.
func (h *Hub) Publish(topic Topic, msgType string, data interface{}) int {
	members := h.Members(topic)
	if len(members) == 0 {
		return 0
	}

	frame, err := json.Marshal(Envelope{Type: msgType, Data: data})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal broadcast frame")
		return 0
	}

	delivered := 0
	for _, sub := range members {
		if sub.Deliver(frame) {
			delivered++
		} else {
			h.log.WithFields(logrus.Fields{
				"subscriber": sub.ID(),
				"topic":      topic.String(),
			}).Debug("Dropped frame for slow subscriber")
		}
	}
	return delivered
}

// SubscriberCount returns the number of distinct connections with at least
// one subscription
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.reverse)
}

// TopicCount returns the number of topics with at least one subscriber
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
