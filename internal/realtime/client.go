package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/auth"
	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/internal/presence"
	"github.com/jobportal/backend/pkg/response"
)

// Disconnect reasons journaled with logout.
const (
	ReasonClientClosed   = "client_closed"
	ReasonConnectionLost = "connection_lost"
	ReasonServerShutdown = "server_shutdown"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth happens before upgrade; origins are not trusted for auth
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Presence is the part of the presence tracker a connection drives.
type Presence interface {
	Connect(ctx context.Context, c presence.Conn) (presence.Decision, error)
	Status(ctx context.Context, c presence.Conn, status, instanceID string, clientTS int64) (presence.Decision, error)
	Activity(ctx context.Context, c presence.Conn, activityType string, metadata map[string]any, clientTS int64) (presence.Decision, error)
	Disconnect(ctx context.Context, c presence.Conn, reason string) (presence.Decision, error)
	Roster(ctx context.Context, limit, offset int) ([]models.RosterEntry, error)
}

// Authenticator validates the credentials of a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Claims, error)
}

// Client represents a single dashboard WebSocket connection.
type Client struct {
	ID        string
	UserID    uuid.UUID
	Email     string
	Role      models.Role
	Admin     bool
	IP        string
	UserAgent string

	hub      *Hub
	tracker  Presence
	conn     *websocket.Conn
	send     chan WSMessage
	done     chan struct{}
	closing  sync.Once
	shutting bool
	mu       sync.Mutex
	logger   *zap.Logger
	roster   int
}

// Options configures ServeWs.
type Options struct {
	// RosterLimit caps the admin:initialStatusList snapshot.
	RosterLimit int
	// RequestTimeout bounds each tracker call made for an inbound message.
	RequestTimeout time.Duration
}

// ServeWs authenticates the handshake, upgrades it and runs the client loop until the connection closes.
func ServeWs(hub *Hub, tracker Presence, authn Authenticator, logger *zap.Logger, opts Options) gin.HandlerFunc {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return func(c *gin.Context) {
		hub.active.Add(1)
		defer hub.active.Done()

		claims, err := authn.Authenticate(c.Request)
		if err != nil {
			response.Unauthorized(c, "invalid or missing token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		role := models.Role(claims.Role)
		client := newClient(hub, tracker, logger, opts.RosterLimit)
		client.UserID = claims.UserID
		client.Email = claims.Email
		client.Role = role
		client.Admin = role.AdminEligible()
		client.IP = presence.ResolveIP(c.Request)
		client.UserAgent = c.Request.UserAgent()
		client.conn = conn

		hub.Register(client)
		go client.writePump()

		if client.Admin {
			ctx, cancel := context.WithTimeout(context.Background(), opts.RequestTimeout)
			if _, err := tracker.Connect(ctx, client.presenceConn()); err != nil {
				client.logger.Warn("presence connect", zap.Error(err))
			}
			cancel()
		}
		client.readPump(opts.RequestTimeout)
	}
}

func newClient(hub *Hub, tracker Presence, logger *zap.Logger, rosterLimit int) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:      uuid.New().String(),
		hub:     hub,
		tracker: tracker,
		send:    make(chan WSMessage, 256),
		done:    make(chan struct{}),
		logger:  logger,
		roster:  rosterLimit,
	}
}

func (c *Client) presenceConn() presence.Conn {
	return presence.Conn{UserID: c.UserID, Email: c.Email, IP: c.IP, UserAgent: c.UserAgent}
}

// deliver queues msg without blocking; a full buffer drops the message.
func (c *Client) deliver(msg WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("client send buffer full, message dropped",
			zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

// shutdown closes the connection on behalf of the server.
func (c *Client) shutdown() {
	c.mu.Lock()
	c.shutting = true
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ReasonServerShutdown), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

func (c *Client) readPump(timeout time.Duration) {
	var readErr error
	defer func() {
		c.closing.Do(func() { close(c.done) })
		_ = c.conn.Close()
		c.leave(c.reason(readErr), timeout)
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			readErr = err
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		c.handleMessage(ctx, msg)
		cancel()
	}
}

// leave unregisters the client and, when it was the actor's last connection on this instance,
// runs the presence disconnect. The tracker checks the hub again on the actor's lane.
func (c *Client) leave(reason string, timeout time.Duration) {
	remaining := c.hub.Unregister(c)
	if !c.Admin || remaining > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := c.tracker.Disconnect(ctx, c.presenceConn(), reason); err != nil {
		c.logger.Warn("presence disconnect", zap.String("user_id", c.UserID.String()), zap.Error(err))
	}
}

func (c *Client) reason(err error) string {
	c.mu.Lock()
	shutting := c.shutting
	c.mu.Unlock()
	if shutting {
		return ReasonServerShutdown
	}
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonClientClosed
	}
	return ReasonConnectionLost
}

type statusMessage struct {
	Status     string  `json:"status"`
	Timestamp  float64 `json:"timestamp"`
	InstanceID string  `json:"instanceId"`
}

type activityMessage struct {
	ActivityType string         `json:"activityType"`
	Timestamp    float64        `json:"timestamp"`
	Metadata     map[string]any `json:"metadata"`
}

var errNotAdmin = errors.New("connection is not an admin")

// handleMessage dispatches one inbound message. Presence messages from non-admin connections are
// ignored, as are unknown events and malformed payloads.
func (c *Client) handleMessage(ctx context.Context, msg WSMessage) {
	var err error
	switch msg.Event {
	case EventUserActivity:
		if !c.Admin {
			err = errNotAdmin
			break
		}
		var p statusMessage
		if err = json.Unmarshal(msg.Data, &p); err != nil {
			break
		}
		_, err = c.tracker.Status(ctx, c.presenceConn(), p.Status, p.InstanceID, int64(p.Timestamp))
	case EventActivitySpecific:
		if !c.Admin {
			err = errNotAdmin
			break
		}
		var p activityMessage
		if err = json.Unmarshal(msg.Data, &p); err != nil {
			break
		}
		_, err = c.tracker.Activity(ctx, c.presenceConn(), p.ActivityType, p.Metadata, int64(p.Timestamp))
	case EventRequestStatusList:
		if !c.Admin {
			err = errNotAdmin
			break
		}
		var list []models.RosterEntry
		if list, err = c.tracker.Roster(ctx, c.roster, 0); err != nil {
			break
		}
		if list == nil {
			list = []models.RosterEntry{}
		}
		c.hub.SendToClient(c.ID, EventInitialStatusList, list)
	default:
		return
	}
	if err != nil {
		c.logger.Debug("inbound message ignored", zap.String("client_id", c.ID),
			zap.String("event", msg.Event), zap.Error(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
