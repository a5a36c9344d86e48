package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientType   = "project4"
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// ErrNotConnected is returned by Send while the channel is down
var ErrNotConnected = errors.New("command channel not connected")

var errDisconnected = errors.New("command channel disconnected")

// CommandChannel is the long-lived websocket to the collector. It reconnects
// on its own; callers only see Send failing while it is down.
type CommandChannel struct {
	wsURL    string
	userID   string
	deviceID string
	token    string
	logger   *zap.Logger
	dialer   *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration
	pingEvery  time.Duration

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn
	onOpen  func()
}

// NewCommandChannel creates a channel for userID. Run connects it.
func NewCommandChannel(wsURL, userID string, logger *zap.Logger) *CommandChannel {
	return &CommandChannel{
		wsURL:  wsURL,
		userID: userID,
		logger: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		minBackoff: time.Second,
		maxBackoff: time.Minute,
		pingEvery:  pingInterval,
	}
}

func (c *CommandChannel) SetDeviceID(id string) { c.deviceID = id }
func (c *CommandChannel) SetToken(token string) { c.token = token }
func (c *CommandChannel) OnConnect(f func())    { c.onOpen = f }

// Connected reports whether a connection is currently open
func (c *CommandChannel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Run keeps the channel connected and hands every inbound envelope to
// handle, one at a time. It returns when ctx is done.
func (c *CommandChannel) Run(ctx context.Context, handle func(models.Envelope)) {
	b := c.newBackOff(ctx)
	_ = backoff.RetryNotify(func() error {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		b.Reset()
		c.serve(ctx, conn, handle)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errDisconnected
	}, b, func(err error, wait time.Duration) {
		if errors.Is(err, errDisconnected) {
			return
		}
		c.logger.Warn("Command channel connect failed",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
	})
}

// newBackOff never gives up on its own; only ctx ends the retries
func (c *CommandChannel) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

func (c *CommandChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid command channel url: %w", err)
	}
	q := u.Query()
	q.Set("type", clientType)
	q.Set("clientId", c.userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		header.Set("X-Device-ID", c.deviceID)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx ends
func (c *CommandChannel) serve(ctx context.Context, conn *websocket.Conn, handle func(models.Envelope)) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	metrics.CommandChannelConnected.Set(1)
	c.logger.Info("Command channel connected", zap.String("user_id", c.userID))

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		metrics.CommandChannelConnected.Set(0)
		c.logger.Info("Command channel disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(c.pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	if c.onOpen != nil {
		go c.onOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Warn("Command channel read failed", zap.Error(err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("Ignoring malformed command", zap.ByteString("data", data))
			continue
		}
		metrics.CommandEvents.WithLabelValues(env.Event).Inc()
		handle(env)
	}
}

// Send writes one event. It fails with ErrNotConnected while the channel is down.
func (c *CommandChannel) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(models.Envelope{Event: event, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}
