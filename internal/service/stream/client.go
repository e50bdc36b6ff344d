package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AlertGate/internal/domain/models"
	drepo "AlertGate/internal/domain/repository"
	"AlertGate/pkg/logger"
)

var ErrNotConnected = errors.New("stream not connected")

var _ drepo.MarketStream = (*Client)(nil)

// Client implements a MarketStream backed by an exchange WebSocket feed.
type Client struct {
	ex           Exchange
	pingInterval time.Duration
	writeTimeout time.Duration
	log          *logger.Logger

	mu            sync.RWMutex
	writeMu       sync.Mutex
	conn          *websocket.Conn
	connected     bool
	lastHeartbeat time.Time
}

type ClientOption func(*Client)

func WithPingInterval(d time.Duration) ClientOption { return func(c *Client) { c.pingInterval = d } }

func WithClientLogger(l *logger.Logger) ClientOption { return func(c *Client) { c.log = l } }

// NewClient creates a stream client for ex.
func NewClient(ex Exchange, opts ...ClientOption) *Client {
	c := &Client{
		ex:           ex,
		pingInterval: 20 * time.Second,
		writeTimeout: 5 * time.Second,
		log:          logger.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logger.String("exchange", ex.Name))
	return c
}

func (c *Client) Exchange() string { return c.ex.Name }

// Connect dials the feed and sends the subscribe frames.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.ex.URL, nil)
	if err != nil {
		return fmt.Errorf("%s connect: %w", c.ex.Name, err)
	}

	conn.SetPingHandler(func(data string) error {
		c.beat()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.beat()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	for _, msg := range c.ex.Subscribe {
		if err := c.writeJSON(msg); err != nil {
			_ = c.Close()
			return fmt.Errorf("%s subscribe: %w", c.ex.Name, err)
		}
	}
	c.log.Info("stream connected", logger.String("url", c.ex.URL))
	return nil
}

func (c *Client) beat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteJSON(v)
}

// Read streams liquidation events until ctx ends or the connection fails.
// Frames that fail to parse are logged and skipped.
func (c *Client) Read(ctx context.Context) (<-chan models.LiquidationEvent, <-chan error) {
	events := make(chan models.LiquidationEvent, 256)
	errs := make(chan error, 1)

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		errs <- ErrNotConnected
		close(errs)
		close(events)
		return events, errs
	}

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					c.log.Debug("ping failed", logger.Error(err))
				}
			}
		}
	}()

	// unblock ReadMessage when ctx ends
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	// read loop
	go func() {
		defer close(events)
		defer close(errs)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				c.connected = false
				c.mu.Unlock()
				if ctx.Err() != nil {
					return
				}
				errs <- fmt.Errorf("%s read: %w", c.ex.Name, err)
				return
			}
			c.beat()
			evs, err := c.ex.Parse(b)
			if err != nil {
				c.log.Debug("unparsed frame", logger.Error(err))
				continue
			}
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				default:
					c.log.Warn("event buffer full, dropping liquidation", logger.String("symbol", ev.Symbol))
				}
			}
		}
	}()

	return events, errs
}

// LastHeartbeat is the time of the last frame, ping or pong.
func (c *Client) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close closes the WS connection. The client may Connect again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
