package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	event   string
	payload []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) PublishAdminEvent(_ context.Context, event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{event, payload})
	return nil
}

func testClient(hub *Hub, userID uuid.UUID, admin bool) *Client {
	c := newClient(hub, nil, nil, 0)
	c.UserID = userID
	c.Admin = admin
	return c
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubUnregisterCountsRemainingConnections(t *testing.T) {
	hub := NewHub(nil, nil)
	user := uuid.New()
	a, b := testClient(hub, user, true), testClient(hub, user, true)
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.Connections(user))

	assert.Equal(t, 1, hub.Unregister(a))
	assert.Equal(t, 1, hub.Unregister(a), "second unregister is a no-op")
	assert.True(t, hub.Connected(user))

	// a refreshed tab registers after the old one unregistered, before its disconnect runs
	c := testClient(hub, user, true)
	assert.Equal(t, 0, hub.Unregister(b))
	assert.False(t, hub.Connected(user))
	hub.Register(c)
	assert.True(t, hub.Connected(user), "the lane sees the new connection when the old disconnect runs")

	assert.Equal(t, 0, hub.Unregister(c))
	assert.Equal(t, 0, hub.Connections(user))
	assert.Empty(t, hub.AdminUserIDs())
}

func TestHubBroadcastReachesAdminsOnly(t *testing.T) {
	hub := NewHub(nil, nil)
	admin := testClient(hub, uuid.New(), true)
	other := testClient(hub, uuid.New(), false)
	hub.Register(admin)
	hub.Register(other)

	hub.BroadcastToAdmins(EventStatusChanged, map[string]string{"status": "idle"})

	got := drain(admin)
	require.Len(t, got, 1)
	assert.Equal(t, EventStatusChanged, got[0].Event)
	assert.JSONEq(t, `{"status":"idle"}`, string(got[0].Data))
	assert.Empty(t, drain(other))
	assert.Equal(t, []uuid.UUID{admin.UserID}, hub.AdminUserIDs())
}

func TestHubEmitWithoutRedisIsLocal(t *testing.T) {
	hub := NewHub(nil, nil)
	admin := testClient(hub, uuid.New(), true)
	hub.Register(admin)

	require.NoError(t, hub.Emit(context.Background(), EventAdminIdle, map[string]int{"n": 1}))
	assert.Len(t, drain(admin), 1)
}

func TestHubEmitWithRedisPublishesOnly(t *testing.T) {
	pub := &fakePublisher{}
	hub := NewHub(nil, pub)
	admin := testClient(hub, uuid.New(), true)
	hub.Register(admin)

	require.NoError(t, hub.Emit(context.Background(), EventAdminIdle, map[string]int{"n": 1}))

	assert.Empty(t, drain(admin), "local delivery happens through the subscription")
	require.Len(t, pub.events, 1)
	assert.Equal(t, EventAdminIdle, pub.events[0].event)
	assert.JSONEq(t, `{"n":1}`, string(pub.events[0].payload))
}

func TestHubSubscriptionDeliversRawPayload(t *testing.T) {
	hub := NewHub(nil, nil)
	admin := testClient(hub, uuid.New(), true)
	hub.Register(admin)

	sub := &fakeSubscriber{}
	require.NoError(t, hub.Subscribe(sub))
	sub.handler(EventAdminAway, []byte(`{"user_id":"x"}`))

	got := drain(admin)
	require.Len(t, got, 1)
	assert.Equal(t, json.RawMessage(`{"user_id":"x"}`), got[0].Data)

	hub.Close()
	assert.True(t, sub.cancelled)
}

type fakeSubscriber struct {
	handler   func(string, []byte)
	cancelled bool
}

func (f *fakeSubscriber) SubscribeAdmins(handler func(event string, payload []byte)) (func(), error) {
	f.handler = handler
	return func() { f.cancelled = true }, nil
}

func TestHubSendToClient(t *testing.T) {
	hub := NewHub(nil, nil)
	a, b := testClient(hub, uuid.New(), true), testClient(hub, uuid.New(), true)
	hub.Register(a)
	hub.Register(b)

	hub.SendToClient(a.ID, EventInitialStatusList, []string{})
	hub.SendToClient("missing", EventInitialStatusList, []string{})

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}
