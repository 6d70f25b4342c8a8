package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jobportal/backend/internal/models"
)

// ErrUnauthorized is returned when the server rejects the dashboard's token.
var ErrUnauthorized = errors.New("unauthorized")

// Client keeps a RosterView in sync with the server: a REST snapshot on (re)connect, then
// statusChanged deltas over WebSocket. Deltas missed while disconnected are not replayed.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	view    *RosterView
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewClient creates a dashboard client for the server at baseURL (e.g. http://localhost:8080).
func NewClient(baseURL, token string, view *RosterView, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		view:    view,
		logger:  logger,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type wsMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Login exchanges credentials for a token and stores it on the client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode login: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("login: %s (status %d)", body.Error, resp.StatusCode)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		return fmt.Errorf("decode login: %w", err)
	}
	c.mu.Lock()
	c.token = data.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Snapshot fetches the admin roster over REST.
func (c *Client) Snapshot(ctx context.Context) ([]models.RosterEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/users/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	var body envelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("roster: %s (status %d)", body.Error, resp.StatusCode)
	}
	var data struct {
		Users []models.RosterEntry `json:"users"`
	}
	if err := json.Unmarshal(body.Data, &data); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return data.Users, nil
}

// Connect loads the snapshot and opens the delta subscription. It returns once subscribed;
// deltas are applied in the background until the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	c.view.SetState(StateConnecting)
	list, err := c.Snapshot(ctx)
	if err != nil {
		c.view.SetState(StateDisconnected)
		return err
	}
	c.view.ApplySnapshot(list)

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		c.view.SetState(StateDisconnected)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial: %w", err)
	}
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()
	c.view.SetState(StateConnected)

	go c.readLoop(conn, done)
	return nil
}

// Reconnect drops the current connection, if any, and connects again with a fresh snapshot.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Close()
	return c.Connect(ctx)
}

// Close closes the connection and waits for the read loop to stop.
func (c *Client) Close() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	<-done
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		c.view.SetState(StateDisconnected)
		close(done)
	}()
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.logger.Info("dashboard connection closed", zap.Error(err))
			return
		}
		c.handle(msg)
	}
}

// handle applies one server event to the view. Other events are ignored.
func (c *Client) handle(msg wsMessage) {
	switch msg.Event {
	case "statusChanged":
		var change models.StatusChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			c.logger.Warn("invalid statusChanged payload", zap.Error(err))
			return
		}
		c.view.ApplyStatusChange(change)
	case "admin:initialStatusList":
		var list []models.RosterEntry
		if err := json.Unmarshal(msg.Data, &list); err != nil {
			c.logger.Warn("invalid roster payload", zap.Error(err))
			return
		}
		c.view.ApplySnapshot(list)
	}
}

func (c *Client) wsURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + "/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.bearer()}}.Encode()
	return u.String()
}
