package client

import (
	"context"
	"log/slog"

	"github.com/NOAA-OWP/DMOD-sub002/message"
)

// SessionProvider supplies session credentials for external requests. Both
// AuthClient and CachedAuthClient satisfy it.
type SessionProvider interface {
	AcquireSession(ctx context.Context) (*message.SessionPayload, error)
	ForceReauth(ctx context.Context) (*message.SessionPayload, error)
}

// ExternalRequestClient authenticates before dispatching external requests,
// attaching the session secret to each outgoing message.
type ExternalRequestClient struct {
	requests *RequestClient
	auth     SessionProvider
	logger   *slog.Logger
}

// NewExternalRequestClient builds an external-request client.
func NewExternalRequestClient(requests *RequestClient, auth SessionProvider, logger *slog.Logger) *ExternalRequestClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExternalRequestClient{requests: requests, auth: auth, logger: logger}
}

// Auth returns the session provider backing this client.
func (c *ExternalRequestClient) Auth() SessionProvider { return c.auth }

// staleSessionReason reports whether a failed reply indicates the attached
// secret is no longer honored and a reauth is worth one retry.
func staleSessionReason(reason string) bool {
	return reason == message.ReasonUnrecognizedSecret || reason == message.ReasonExpiredSession
}

// SubmitExternal acquires a session, attaches its secret to the request and
// performs the exchange. Like Submit it never returns an error: an auth
// failure produces a failed envelope with reason AUTH_FAILURE and never
// touches the network. A reply rejecting the secret as stale triggers one
// forced reauthentication and a single retry.
func SubmitExternal[R any, P responsePtr[R]](ctx context.Context, c *ExternalRequestClient, req message.ExternalRequest) P {
	session, err := c.auth.AcquireSession(ctx)
	if err != nil {
		c.logger.Warn("external request blocked by auth failure", "event", req.Event(), "error", err)
		return failure[R, P](message.ReasonAuthFailure, err.Error())
	}

	req.ApplySecret(session.SessionSecret)
	resp := Submit[R, P](ctx, c.requests, req)
	env := resp.Envelope()
	if env.Success || !staleSessionReason(env.Reason) {
		return resp
	}

	c.logger.Info("session rejected as stale, reauthenticating", "reason", env.Reason)
	session, err = c.auth.ForceReauth(ctx)
	if err != nil {
		return failure[R, P](message.ReasonAuthFailure, err.Error())
	}
	req.ApplySecret(session.SessionSecret)
	return Submit[R, P](ctx, c.requests, req)
}
