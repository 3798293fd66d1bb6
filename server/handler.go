// Package server provides the websocket request listener: it upgrades
// connections, decodes frames against the request-type registry, gates
// external requests on session credentials and dispatches to per-event
// handlers, producing exactly one reply per inbound frame.
package server

import (
	"context"

	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/session"
)

// RequestContext carries per-request facts resolved by the listener before
// a handler runs.
type RequestContext struct {
	// Session is the validated session of an external request. It is nil
	// for internal requests, which arrive on trusted channels.
	Session *session.Session
	// RemoteAddr is the peer address of the originating connection.
	RemoteAddr string
}

// Handler processes one decoded request and produces its reply. Returning
// an error (or panicking) yields a generic error reply to the peer; the
// connection survives either way.
type Handler interface {
	Handle(ctx context.Context, req message.Request, rc *RequestContext) (message.ResponseMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req message.Request, rc *RequestContext) (message.ResponseMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req message.Request, rc *RequestContext) (message.ResponseMessage, error) {
	return f(ctx, req, rc)
}

// Authenticator verifies user credentials during session initialization.
type Authenticator interface {
	// Authenticate reports whether the given username and user secret
	// identify a known user.
	Authenticate(ctx context.Context, username, userSecret string) (bool, error)
}

// PseudoUserAuthenticator accepts any non-empty credentials. It stands in
// where no user directory is wired up, matching deployments that run with
// session gating but without real user accounts.
type PseudoUserAuthenticator struct{}

// Authenticate accepts any request carrying both a username and a secret.
func (PseudoUserAuthenticator) Authenticate(_ context.Context, username, userSecret string) (bool, error) {
	return username != "" && userSecret != "", nil
}
