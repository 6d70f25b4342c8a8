package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains the dashboard connections of this instance, indexed by connection and by actor.
// Presence events go to the admins room. With Redis configured, events are published only and the
// subscriber delivers them once to every instance, this one included.
type Hub struct {
	clients map[string]*Client               // clientID -> client
	byUser  map[uuid.UUID]map[string]*Client // userID -> clientID -> client
	mu      sync.RWMutex
	logger  *zap.Logger
	redis   RedisPublisher
	cancel  func()
	active  sync.WaitGroup // connection loops still running
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishAdminEvent(ctx context.Context, event string, payload []byte) error
}

// RedisSubscriber subscribes to the admin channel and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeAdmins(handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub may be nil for single-instance deployments.
func NewHub(logger *zap.Logger, redisPub RedisPublisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		byUser:  make(map[uuid.UUID]map[string]*Client),
		logger:  logger,
		redis:   redisPub,
	}
}

// Subscribe starts delivering events received on the admin channel to local admin connections.
func (h *Hub) Subscribe(sub RedisSubscriber) error {
	cancel, err := sub.SubscribeAdmins(func(event string, payload []byte) {
		h.BroadcastToAdmins(event, json.RawMessage(payload))
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	return nil
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	conns := h.byUser[c.UserID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
		if c.Admin {
			metrics.OpenSessions.Inc()
		}
	}
	conns[c.ID] = c
	h.mu.Unlock()
	metrics.Connections.Inc()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client and returns how many connections its actor still has on this instance.
// Unregistering an unknown client returns the current count and changes nothing.
func (h *Hub) Unregister(c *Client) int {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		n := len(h.byUser[c.UserID])
		h.mu.Unlock()
		return n
	}
	delete(h.clients, c.ID)
	conns := h.byUser[c.UserID]
	delete(conns, c.ID)
	remaining := len(conns)
	if remaining == 0 {
		delete(h.byUser, c.UserID)
		if c.Admin {
			metrics.OpenSessions.Dec()
		}
	}
	h.mu.Unlock()
	metrics.Connections.Dec()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()),
		zap.Int("remaining", remaining))
	return remaining
}

// BroadcastToAdmins sends a message to every admin connection on this instance (local only).
func (h *Hub) BroadcastToAdmins(event string, payload interface{}) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.Admin {
			c.deliver(msg)
		}
	}
}

// Emit publishes to Redis only (no local broadcast) so the subscriber delivers once on every
// instance. Without Redis it broadcasts locally.
func (h *Hub) Emit(ctx context.Context, event string, payload interface{}) error {
	if h.redis == nil {
		h.BroadcastToAdmins(event, payload)
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.redis.PublishAdminEvent(ctx, event, data)
}

// SendToClient sends a message to a single connection.
func (h *Hub) SendToClient(clientID string, event string, payload interface{}) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[clientID]
	h.mu.RUnlock()
	if !found {
		return
	}
	c.deliver(msg)
}

// AdminUserIDs returns the admins with at least one live connection on this instance.
func (h *Hub) AdminUserIDs() []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(h.byUser))
	for id, conns := range h.byUser {
		for _, c := range conns {
			if c.Admin {
				ids = append(ids, id)
			}
			break
		}
	}
	return ids
}

// Connected reports whether the actor has at least one live connection on this instance.
func (h *Hub) Connected(userID uuid.UUID) bool {
	return h.Connections(userID) > 0
}

// Connections returns the number of live connections for an actor on this instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Close stops the Redis subscription and closes every connection, which runs each client's
// disconnect handling.
func (h *Hub) Close() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, c := range clients {
		c.shutdown()
	}
}

// Wait blocks until every connection loop has finished its disconnect handling.
func (h *Hub) Wait() {
	h.active.Wait()
}

func encode(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}
