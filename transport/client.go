// Package transport provides the client side of DMOD's secured persistent
// duplex channel: a websocket connection shared by many logically
// independent request/response exchanges through a reference-counted
// acquire/release context.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/retry"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/tlsutil"
)

// OpenWaitTimeout is the approximate budget Acquire spends waiting on
// another caller's in-progress connection open before giving up.
const OpenWaitTimeout = 15 * time.Second

// openWaitConfig is the backoff schedule while another caller's open is in
// flight. The capped delays across its attempts sum to roughly
// OpenWaitTimeout.
func openWaitConfig() retry.Config {
	cfg := retry.Quick()
	cfg.MaxAttempts = 20
	return cfg
}

// Client is a websocket transport client. Each logical exchange brackets its
// sends and receives with Acquire and Release; the underlying connection is
// dialed when the active-use count rises from zero and closed when it
// returns to zero, so callers never reason about connection lifecycle.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	// mu guards conn, activeCount, opening and closed. The opening flag is
	// the mutually exclusive guard against concurrent dials; waiters poll
	// it with backoff rather than queueing on the dial itself.
	mu          sync.Mutex
	conn        *websocket.Conn
	activeCount int
	opening     bool
	closed      bool

	// exchangeMu serializes whole request/response exchanges so one
	// exchange's reply frame cannot be consumed by another.
	exchangeMu sync.Mutex

	// writeMu serializes frame writes; gorilla/websocket permits only one
	// concurrent writer.
	writeMu sync.Mutex
	readMu  sync.Mutex
}

// NewClient creates a transport client for the given websocket URL. The TLS
// trust source is decided once here from the client TLS config.
func NewClient(url string, tlsCfg security.ClientTLSConfig, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "transport", "NewClient", "endpoint URL validation")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(tlsCfg)
	if err != nil {
		return nil, err
	}
	dialer.TLSClientConfig = tlsConfig

	return &Client{
		url:    url,
		dialer: dialer,
		logger: logger,
	}, nil
}

// Acquire enters the shared-connection context: it increments the active-use
// count, dialing the underlying connection first if no one holds it open.
// If another caller is mid-open, Acquire retries with backoff for roughly
// OpenWaitTimeout and then fails with ErrOpenBlocked. A dial error is
// returned immediately and leaves the count unincremented.
func (c *Client) Acquire(ctx context.Context) error {
	err := retry.Do(ctx, openWaitConfig(), func() error {
		return c.tryAcquire(ctx)
	})
	if err == nil {
		return nil
	}
	var terminal *retry.NonRetryableError
	if errors.As(err, &terminal) {
		return terminal.Err
	}
	return errors.WrapTransient(errors.ErrOpenBlocked, "transport", "Acquire", "wait for in-progress open")
}

// tryAcquire makes one acquisition attempt. A closed client and a failed
// dial are terminal; an open held by another caller is worth retrying.
func (c *Client) tryAcquire(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return retry.NonRetryable(
			errors.WrapInvalid(errors.ErrClientClosed, "transport", "Acquire", "client state check"))
	}

	if c.conn != nil {
		c.activeCount++
		c.mu.Unlock()
		return nil
	}

	if c.opening {
		c.mu.Unlock()
		return errors.ErrOpenBlocked
	}

	c.opening = true
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)

	c.mu.Lock()
	c.opening = false
	if err != nil {
		c.mu.Unlock()
		return retry.NonRetryable(
			errors.WrapTransient(err, "transport", "Acquire", "open connection"))
	}
	c.conn = conn
	c.activeCount++
	c.mu.Unlock()

	c.logger.Debug("transport connection opened", "url", c.url)
	return nil
}

// Release exits the shared-connection context. When the active-use count
// returns to zero the underlying connection is closed.
func (c *Client) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeCount == 0 {
		return
	}
	c.activeCount--
	if c.activeCount == 0 && c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.logger.Debug("transport connection closed", "url", c.url)
	}
}

// Send writes one frame. With awaitReply set it blocks for the next inbound
// frame and returns it; the whole exchange runs under one lock so a
// concurrent exchange on the shared connection cannot pair with this
// exchange's reply. Without awaitReply the returned slice is nil. Callers
// must hold an acquired context.
func (c *Client) Send(ctx context.Context, data []byte, awaitReply bool) ([]byte, error) {
	if !awaitReply {
		return nil, c.writeFrame(ctx, data)
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.writeFrame(ctx, data); err != nil {
		return nil, err
	}
	return c.Recv(ctx)
}

func (c *Client) writeFrame(ctx context.Context, data []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "transport", "Send", "write frame")
	}
	return nil
}

// Recv blocks for the next inbound frame. Callers must hold an acquired
// context.
func (c *Client) Recv(ctx context.Context) ([]byte, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Recv", "read frame")
	}
	return data, nil
}

// Close shuts the client down; subsequent Acquire calls fail.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.activeCount = 0
}

// current returns the open connection or a no-connection error.
func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: Acquire must be called first", errors.ErrNoConnection),
			"transport", "current", "connection check")
	}
	return c.conn, nil
}
