package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/retry"
)

// DefaultSessionFile is the file name used by CachedAuthClient under the
// user's home directory.
const DefaultSessionFile = ".dmod_session"

// AuthClient acquires sessions from the request service and memoizes the
// result so a long-lived process authenticates at most once until the
// session goes stale.
type AuthClient struct {
	requests   *RequestClient
	username   string
	userSecret string
	logger     *slog.Logger

	mu      sync.Mutex
	session *message.SessionPayload
}

// NewAuthClient builds an auth client over a request client.
func NewAuthClient(requests *RequestClient, username, userSecret string, logger *slog.Logger) *AuthClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthClient{
		requests:   requests,
		username:   username,
		userSecret: userSecret,
		logger:     logger,
	}
}

// AcquireSession returns the memoized session or performs a session-init
// exchange to obtain one.
func (a *AuthClient) AcquireSession(ctx context.Context) (*message.SessionPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return a.session, nil
	}
	return a.authenticateLocked(ctx)
}

// ForceReauth discards any memoized session and authenticates again.
func (a *AuthClient) ForceReauth(ctx context.Context) (*message.SessionPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session = nil
	return a.authenticateLocked(ctx)
}

// authenticateLocked runs the session-init exchange, retrying transport-level
// failures with backoff. A rejection is final and never retried. Callers
// hold a.mu.
func (a *AuthClient) authenticateLocked(ctx context.Context) (*message.SessionPayload, error) {
	req := &message.SessionInitMessage{Username: a.username, UserSecret: a.userSecret}
	resp, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*message.SessionInitResponse, error) {
		resp := Submit[message.SessionInitResponse](ctx, a.requests, req)
		if !resp.Success && transientReason(resp.Reason) {
			return nil, errors.WrapTransient(
				fmt.Errorf("%s: %s", resp.Reason, resp.Message),
				"AuthClient", "authenticate", "session init exchange")
		}
		return resp, nil
	})
	if err != nil {
		a.logger.Warn("session init exchange failed", "user", a.username, "error", err)
		return nil, err
	}
	if !resp.Success {
		a.logger.Warn("session init rejected", "user", a.username, "reason", resp.Reason)
		return nil, errors.WrapInvalid(errors.ErrAuthFailed, "AuthClient", "authenticate", resp.Reason)
	}
	session, err := resp.Session()
	if err != nil {
		return nil, err
	}
	a.session = session
	a.logger.Info("session acquired", "user", a.username, "session_id", session.SessionID)
	return session, nil
}

// transientReason reports whether a failed envelope reflects a transport
// condition worth retrying rather than a server decision.
func transientReason(reason string) bool {
	switch reason {
	case message.ReasonTransportError, message.ReasonEmptyResponse:
		return true
	}
	return false
}

// CachedAuthClient is an AuthClient that persists the acquired session to a
// file so separate short-lived processes share one session.
type CachedAuthClient struct {
	*AuthClient
	path string
}

// NewCachedAuthClient builds a cached auth client. An empty path defaults to
// DefaultSessionFile in the user's home directory.
func NewCachedAuthClient(requests *RequestClient, username, userSecret, path string, logger *slog.Logger) (*CachedAuthClient, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.WrapInvalid(err, "CachedAuthClient", "New", "resolve home directory")
		}
		path = filepath.Join(home, DefaultSessionFile)
	}
	return &CachedAuthClient{
		AuthClient: NewAuthClient(requests, username, userSecret, logger),
		path:       path,
	}, nil
}

// AcquireSession prefers, in order: the in-memory session, the session file,
// a fresh session-init exchange. A freshly acquired session is written back
// to the file.
func (a *CachedAuthClient) AcquireSession(ctx context.Context) (*message.SessionPayload, error) {
	return a.acquire(ctx, false)
}

// Reload re-reads the session file even when a session is memoized, falling
// back to a fresh exchange if the file is absent or unreadable.
func (a *CachedAuthClient) Reload(ctx context.Context) (*message.SessionPayload, error) {
	return a.acquire(ctx, true)
}

func (a *CachedAuthClient) acquire(ctx context.Context, forceReload bool) (*message.SessionPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil && !forceReload {
		return a.session, nil
	}

	if session, ok := a.readFile(); ok {
		a.session = session
		return session, nil
	}

	session, err := a.authenticateLocked(ctx)
	if err != nil {
		return nil, err
	}
	a.writeFile(session)
	return session, nil
}

// ForceReauth discards the memoized session and the session file, then
// authenticates again and rewrites the file.
func (a *CachedAuthClient) ForceReauth(ctx context.Context) (*message.SessionPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session = nil
	_ = os.Remove(a.path)

	session, err := a.authenticateLocked(ctx)
	if err != nil {
		return nil, err
	}
	a.writeFile(session)
	return session, nil
}

func (a *CachedAuthClient) readFile() (*message.SessionPayload, bool) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, false
	}
	var session message.SessionPayload
	if err := json.Unmarshal(data, &session); err != nil || session.SessionSecret == "" {
		a.logger.Warn("ignoring unreadable session file", "path", a.path)
		return nil, false
	}
	return &session, true
}

func (a *CachedAuthClient) writeFile(session *message.SessionPayload) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := os.WriteFile(a.path, data, 0o600); err != nil {
		a.logger.Warn("session file write failed", "path", a.path, "error", err)
	}
}
