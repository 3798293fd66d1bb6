// Package client provides the request-side stack: a websocket request
// client whose exchanges always yield a response envelope, an auth client
// that acquires and memoizes sessions, and an external-request client that
// attaches session credentials before dispatch.
package client

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/NOAA-OWP/DMOD-sub002/message"
)

// responsePtr constrains a pointer to a concrete response struct.
type responsePtr[R any] interface {
	*R
	message.ResponseMessage
}

// Transport is the connection surface a request client exchanges frames
// over. *transport.Client satisfies it.
type Transport interface {
	Acquire(ctx context.Context) error
	Release()
	Send(ctx context.Context, data []byte, awaitReply bool) ([]byte, error)
}

// RequestClient performs single request/response exchanges over a shared
// transport connection.
type RequestClient struct {
	transport Transport
	logger    *slog.Logger
}

// NewRequestClient wraps a transport connection.
func NewRequestClient(t Transport, logger *slog.Logger) *RequestClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestClient{transport: t, logger: logger}
}

// Exchange sends one serialized frame and waits for the reply. It brackets
// the exchange with the transport's acquire/release context.
func (c *RequestClient) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	if err := c.transport.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.transport.Release()
	return c.transport.Send(ctx, frame, true)
}

// Submit performs a full typed exchange. It never returns an error: every
// failure mode collapses into a failed response envelope so callers have a
// single result shape to inspect.
//
//   - serialization or transport failures yield reason TRANSPORT_ERROR
//   - an empty reply yields reason EMPTY_RESPONSE
//   - an unparseable reply yields reason MALFORMED_RESPONSE
func Submit[R any, P responsePtr[R]](ctx context.Context, c *RequestClient, req message.Request) P {
	frame, err := message.Serialize(req)
	if err != nil {
		c.logger.Error("request serialization failed", "event", req.Event(), "error", err)
		return failure[R, P](message.ReasonTransportError, err.Error())
	}

	reply, err := c.Exchange(ctx, frame)
	if err != nil {
		c.logger.Warn("request exchange failed", "event", req.Event(), "error", err)
		return failure[R, P](message.ReasonTransportError, err.Error())
	}
	if len(reply) == 0 {
		return failure[R, P](message.ReasonEmptyResponse, "no data in reply")
	}

	var resp R
	p := P(&resp)
	if err := json.Unmarshal(reply, p); err != nil {
		c.logger.Warn("reply parsing failed", "event", req.Event(), "error", err)
		return failure[R, P](message.ReasonMalformedResponse, err.Error())
	}
	return p
}

// failure builds a typed failed response carrying the given reason.
func failure[R any, P responsePtr[R]](reason, detail string) P {
	var resp R
	p := P(&resp)
	env := p.Envelope()
	env.Success = false
	env.Reason = reason
	env.Message = detail
	return p
}
