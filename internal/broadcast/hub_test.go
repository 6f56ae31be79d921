package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeSubscriber records delivered frames in memory
type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
	reject bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (s *fakeSubscriber) ID() string { return s.id }

func (s *fakeSubscriber) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSubscriber) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestHubPublishToTopicMembers(t *testing.T) {
	hub := NewHub(testLogger())
	subA := newFakeSubscriber("conn-a")
	subB := newFakeSubscriber("conn-b")

	hub.Join(subA, TenantTopic(1))
	hub.Join(subB, TenantTopic(1))

	delivered := hub.Publish(TenantTopic(1), "position", map[string]string{"k": "v"})

	require.Equal(t, 2, delivered)
	require.Len(t, subA.received(), 1)
	require.Len(t, subB.received(), 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(subA.received()[0], &env))
	require.Equal(t, "position", env.Type)
}

func TestHubTenantIsolation(t *testing.T) {
	hub := NewHub(testLogger())
	subA := newFakeSubscriber("tenant-1-conn")
	subB := newFakeSubscriber("tenant-2-conn")

	hub.Join(subA, TenantTopic(1))
	hub.Join(subB, TenantTopic(2))

	delivered := hub.Publish(TenantTopic(1), "position", "payload")

	require.Equal(t, 1, delivered)
	require.Len(t, subA.received(), 1)
	require.Empty(t, subB.received())
}

func TestHubJoinIsIdempotent(t *testing.T) {
	hub := NewHub(testLogger())
	sub := newFakeSubscriber("conn-a")

	hub.Join(sub, VehicleTopic(7))
	hub.Join(sub, VehicleTopic(7))

	delivered := hub.Publish(VehicleTopic(7), "position", "payload")

	require.Equal(t, 1, delivered)
	require.Len(t, sub.received(), 1)
}

func TestHubLeaveUnjoinedTopicIsNoop(t *testing.T) {
	hub := NewHub(testLogger())
	sub := newFakeSubscriber("conn-a")

	hub.Join(sub, TenantTopic(1))
	hub.Leave(sub, VehicleTopic(99))

	require.Equal(t, 1, hub.Publish(TenantTopic(1), "position", "payload"))
}

func TestHubLeaveAll(t *testing.T) {
	hub := NewHub(testLogger())
	sub := newFakeSubscriber("conn-a")
	peer := newFakeSubscriber("conn-b")

	hub.Join(sub, TenantTopic(1))
	hub.Join(sub, VehicleTopic(7))
	hub.Join(sub, GeofenceTopic(3))
	hub.Join(peer, TenantTopic(1))

	hub.LeaveAll(sub)

	require.Equal(t, 0, hub.Publish(VehicleTopic(7), "position", "payload"))
	require.Equal(t, 0, hub.Publish(GeofenceTopic(3), "alert", "payload"))
	require.Equal(t, 1, hub.Publish(TenantTopic(1), "position", "payload"))
	require.Empty(t, sub.received())
	require.Equal(t, 1, hub.SubscriberCount())
}

func TestHubPublishEmptyTopic(t *testing.T) {
	hub := NewHub(testLogger())

	require.Equal(t, 0, hub.Publish(TenantTopic(42), "position", "payload"))
}

func TestHubSlowSubscriberDoesNotFailBroadcast(t *testing.T) {
	hub := NewHub(testLogger())
	slow := newFakeSubscriber("slow")
	slow.reject = true
	fast := newFakeSubscriber("fast")

	hub.Join(slow, TenantTopic(1))
	hub.Join(fast, TenantTopic(1))

	delivered := hub.Publish(TenantTopic(1), "position", "payload")

	require.Equal(t, 1, delivered)
	require.Len(t, fast.received(), 1)
	require.Empty(t, slow.received())
}

func TestHubCounts(t *testing.T) {
	hub := NewHub(testLogger())
	subA := newFakeSubscriber("conn-a")
	subB := newFakeSubscriber("conn-b")

	hub.Join(subA, TenantTopic(1))
	hub.Join(subA, VehicleTopic(7))
	hub.Join(subB, TenantTopic(1))

	require.Equal(t, 2, hub.SubscriberCount())
	require.Equal(t, 2, hub.TopicCount())

	hub.LeaveAll(subA)

	require.Equal(t, 1, hub.SubscriberCount())
	require.Equal(t, 1, hub.TopicCount())
}

func TestHubConcurrentJoinPublishLeave(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("conn-%d", n))
			hub.Join(sub, TenantTopic(1))
			hub.Publish(TenantTopic(1), "position", n)
			hub.LeaveAll(sub)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, hub.SubscriberCount())
	require.Equal(t, 0, hub.TopicCount())
}

func TestTopicString(t *testing.T) {
	require.Equal(t, "tenant:4", TenantTopic(4).String())
	require.Equal(t, "vehicle:9", VehicleTopic(9).String())
	require.Equal(t, "geofence:2", GeofenceTopic(2).String())
}
