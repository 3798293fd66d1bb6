package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/retry"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
)

// newEchoServer runs a websocket endpoint that echoes every text frame and
// returns its ws:// URL.
func newEchoServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, security.ClientTLSConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient("", security.ClientTLSConfig{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	require.NoError(t, c.Acquire(ctx), "second acquire shares the open connection")

	c.mu.Lock()
	assert.Equal(t, 2, c.activeCount)
	assert.NotNil(t, c.conn)
	c.mu.Unlock()

	c.Release()
	c.mu.Lock()
	assert.NotNil(t, c.conn, "connection stays open while held")
	c.mu.Unlock()

	c.Release()
	c.mu.Lock()
	assert.Nil(t, c.conn, "last release closes the connection")
	c.mu.Unlock()
}

func TestAcquireFailsWhenClosed(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	c.Close()

	err := c.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrClientClosed))
}

func TestAcquireDialFailureIsImmediate(t *testing.T) {
	// Nothing listens here; the dial error must surface without being
	// retried across the open-wait schedule.
	c := newTestClient(t, "ws://127.0.0.1:1/ws")

	err := c.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, retry.IsNonRetryable(err), "terminal marker is unwrapped before returning")
}

func TestTryAcquireWhileOpenInProgress(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	c.mu.Lock()
	c.opening = true
	c.mu.Unlock()

	err := c.tryAcquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOpenBlocked))
	assert.False(t, retry.IsNonRetryable(err), "a blocked open is worth retrying")
}

func TestSendEcho(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	ctx := context.Background()
	require.NoError(t, c.Acquire(ctx))
	defer c.Release()

	reply, err := c.Send(ctx, []byte("ping"), true)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), reply)

	reply, err = c.Send(ctx, []byte("fire and forget"), false)
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestSendRequiresAcquiredConnection(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	_, err := c.Send(context.Background(), []byte("ping"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoConnection))
}

// Concurrent exchanges over one shared connection must each get their own
// reply frame back, never a frame written for another exchange.
func TestConcurrentExchangesKeepTheirReplies(t *testing.T) {
	c := newTestClient(t, newEchoServer(t))
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	mismatches := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := c.Acquire(ctx); err != nil {
				mismatches <- err.Error()
				return
			}
			defer c.Release()

			payload := []byte(fmt.Sprintf("exchange-%d", id))
			for n := 0; n < 20; n++ {
				reply, err := c.Send(ctx, payload, true)
				if err != nil {
					mismatches <- err.Error()
					return
				}
				if string(reply) != string(payload) {
					mismatches <- fmt.Sprintf("sent %q, got %q", payload, reply)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(mismatches)

	for m := range mismatches {
		t.Errorf("exchange paired with a foreign reply: %s", m)
	}
}
