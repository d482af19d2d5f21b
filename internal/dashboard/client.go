package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"guardiand/internal/logging"
)

// Client maintains a dashboard connection with automatic reconnection.
// Used by the overlay window and by guardianctl when streaming.
type Client struct {
	url      string
	log      *logging.Logger
	messages chan Envelope

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient targets ws://addr/ws.
func NewClient(addr string) *Client {
	return &Client{
		url:      fmt.Sprintf("ws://%s/ws", addr),
		log:      logging.Default().WithComponent("dashboard-client"),
		messages: make(chan Envelope, 32),
	}
}

// Messages delivers inbound envelopes. The channel closes when the
// client stops.
func (c *Client) Messages() <-chan Envelope { return c.messages }

// Start connects and begins the read loop. Reconnection on failure is
// exponential from one second, doubling up to thirty.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.done = make(chan struct{})
	c.mu.Unlock()
	go c.run(ctx)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		conn, _, err := websocket.Dial(dctx, c.url, nil)
		return conn, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(8),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("dashboard dial failed, retrying", "error", err, "next_try_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("dashboard connected", "url", c.url)
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.messages)
	defer close(c.done)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("dashboard connection lost", "error", err)
			if err := c.connect(ctx); err != nil {
				c.log.Error("dashboard reconnect gave up", "error", err)
				return
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("dropping malformed envelope", "error", err)
			continue
		}
		select {
		case c.messages <- env:
		default:
			c.log.Debug("dropping envelope, consumer is behind", "type", env.Type)
		}
	}
}

// Send writes one envelope.
func (c *Client) Send(ctx context.Context, t MessageType, payload any) error {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// Authenticate performs the HELLO exchange and returns the session
// token. It must run before the caller starts consuming Messages for
// other purposes; the ack is awaited on the message channel.
func (c *Client) Authenticate(ctx context.Context, clientName, pin string) (string, error) {
	if err := c.Send(ctx, TypeHello, HelloData{ClientName: clientName, PIN: pin}); err != nil {
		return "", err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case env, ok := <-c.messages:
			if !ok {
				return "", errors.New("connection closed during authentication")
			}
			switch env.Type {
			case TypeHelloAck:
				var ack HelloAckData
				if err := env.DecodeData(&ack); err != nil {
					return "", err
				}
				return ack.Token, nil
			case TypeError:
				var e ErrorData
				if err := env.DecodeData(&e); err != nil {
					return "", err
				}
				return "", errors.New(e.Message)
			default:
				// Status pushes may arrive first; skip them.
			}
		}
	}
}

// Close stops the client.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.CloseNow()
	}
	if done != nil {
		<-done
	}
}
