package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jamesrupertball/tempest-weather-airport/internal/metrics"
)

// State is the lifecycle position of the streaming session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Closing
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Closing:
		return "closing"
	default:
		return "disconnected"
	}
}

// ErrPeerClosed is returned in once mode when the server ends the session cleanly.
var ErrPeerClosed = errors.New("stream closed by peer")

// TransportError is any failure of the socket other than a clean remote close.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Handler receives every text frame in arrival order.
type Handler func(ctx context.Context, raw []byte)

type Config struct {
	URL       string
	Token     string
	DeviceID  int64
	RapidWind bool

	ReconnectDelay time.Duration
	RestartDelay   time.Duration

	// Once makes a clean remote close terminal instead of reconnecting.
	Once bool
}

// Client owns at most one websocket session at a time.
type Client struct {
	cfg       Config
	dialer    *websocket.Dialer
	requestID string
	logger    *zap.Logger
	state     atomic.Int32
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		requestID: uuid.NewString(),
		logger:    logger.With(zap.Int64("device_id", cfg.DeviceID)),
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.StreamState.Set(float64(s))
}

// Run keeps the stream alive until ctx is cancelled, restarting after
// RestartDelay whenever a session ends with a TransportError.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	for {
		err := c.ConnectAndListen(ctx, handler)

		var te *TransportError
		if !errors.As(err, &te) || ctx.Err() != nil {
			return err
		}

		metrics.StreamReconnects.WithLabelValues("transport").Inc()
		c.logger.Warn("Stream transport failure, restarting",
			zap.String("op", te.Op),
			zap.Error(te.Err),
			zap.Duration("delay", c.cfg.RestartDelay))

		if err := sleep(ctx, c.cfg.RestartDelay); err != nil {
			return err
		}
	}
}

// ConnectAndListen opens a session and feeds frames to handler. After a
// clean remote close it reconnects with the same subscription, or returns
// ErrPeerClosed in once mode. Any other failure is a *TransportError.
func (c *Client) ConnectAndListen(ctx context.Context, handler Handler) error {
	for {
		err := c.session(ctx, handler)
		if err != nil {
			return err
		}
		if c.cfg.Once {
			return ErrPeerClosed
		}

		metrics.StreamReconnects.WithLabelValues("peer_closed").Inc()
		c.logger.Info("Stream closed by server, reconnecting",
			zap.Duration("delay", c.cfg.ReconnectDelay))

		if err := sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}

// session returns nil only on a clean remote close.
func (c *Client) session(ctx context.Context, handler Handler) error {
	c.setState(Connecting)
	defer c.setState(Disconnected)

	endpoint, err := c.endpoint()
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	c.logger.Info("Connecting to stream",
		zap.String("url", c.cfg.URL),
		zap.String("token", redact(c.cfg.Token)))

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()
	metrics.StreamSessions.Inc()

	// unblocks ReadMessage when ctx is cancelled
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer wg.Wait()
	defer close(done)
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			c.setState(Closing)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := c.subscribe(conn); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "subscribe", Err: err}
	}
	c.setState(Subscribed)
	c.logger.Info("Subscribed to stream", zap.String("request_id", c.requestID))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handler(ctx, data)
	}
}

type listenRequest struct {
	Type     string `json:"type"`
	DeviceID int64  `json:"device_id"`
	ID       string `json:"id"`
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	if err := conn.WriteJSON(listenRequest{Type: "listen_start", DeviceID: c.cfg.DeviceID, ID: c.requestID}); err != nil {
		return err
	}
	if c.cfg.RapidWind {
		return conn.WriteJSON(listenRequest{Type: "listen_rapid_start", DeviceID: c.cfg.DeviceID, ID: c.requestID})
	}
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func redact(token string) string {
	if len(token) <= 10 {
		return "***"
	}
	return token[:10] + "..."
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
