package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/message"
	"github.com/NOAA-OWP/DMOD-sub002/pkg/security"
	"github.com/NOAA-OWP/DMOD-sub002/session"
)

func newTestService(t *testing.T) (*Service, *session.InMemoryManager) {
	t.Helper()
	sessions := session.NewInMemoryManager()
	s, err := NewService("test-service",
		Config{ListenAddress: "127.0.0.1:0"},
		security.Config{},
		message.DefaultRegistry(),
		sessions,
		nil, nil, nil)
	require.NoError(t, err)
	return s, sessions
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func frame(t *testing.T, m message.Message) []byte {
	t.Helper()
	data, err := message.Serialize(m)
	require.NoError(t, err)
	return data
}

func TestNewServiceValidation(t *testing.T) {
	registry := message.DefaultRegistry()
	sessions := session.NewInMemoryManager()

	tests := []struct {
		name     string
		address  string
		registry *message.Registry
		sessions session.Manager
	}{
		{"missing listen address", "", registry, sessions},
		{"missing registry", "127.0.0.1:0", nil, sessions},
		{"missing session manager", "127.0.0.1:0", registry, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService("svc", Config{ListenAddress: tt.address},
				security.Config{}, tt.registry, tt.sessions, nil, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{ListenAddress: "127.0.0.1:0"}
	c.applyDefaults()
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, "/metrics", c.MetricsPath)
	assert.Equal(t, "/health", c.HealthPath)
	assert.Equal(t, 5*time.Minute, c.PurgeInterval)

	c = Config{Path: "/ws", MetricsPath: "/m", PurgeInterval: time.Minute}
	c.applyDefaults()
	assert.Equal(t, "/ws", c.Path)
	assert.Equal(t, "/m", c.MetricsPath)
	assert.Equal(t, time.Minute, c.PurgeInterval)
}

func TestRegisterHandler(t *testing.T) {
	s, _ := newTestService(t)
	h := HandlerFunc(func(context.Context, message.Request, *RequestContext) (message.ResponseMessage, error) {
		return nil, nil
	})

	require.NoError(t, s.RegisterHandler(message.EventDatasetManagement, h))

	err := s.RegisterHandler(message.EventDatasetManagement, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateHandler))
	assert.True(t, errors.IsFatal(err))

	assert.Error(t, s.RegisterHandler(message.EventMetadata, nil))
}

func TestSessionInitFlow(t *testing.T) {
	s, sessions := newTestService(t)
	ctx := context.Background()

	t.Run("valid credentials create a session", func(t *testing.T) {
		reply := s.processFrame(ctx, nil,
			frame(t, &message.SessionInitMessage{Username: "alice", UserSecret: "pw"}),
			"10.0.0.1:1234", quietLogger())
		require.True(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonSessionCreated, reply.Envelope().Reason)

		typed := reply.(*message.SessionInitResponse)
		payload, err := typed.Session()
		require.NoError(t, err)
		assert.Equal(t, "alice", payload.User)
		require.NotEmpty(t, payload.SessionSecret)

		sess, found := sessions.LookupBySecret(payload.SessionSecret)
		require.True(t, found)
		assert.Equal(t, "10.0.0.1:1234", sess.IPAddress)
	})

	t.Run("empty credentials are rejected", func(t *testing.T) {
		reply := s.processFrame(ctx, nil,
			frame(t, &message.SessionInitMessage{Username: "alice"}),
			"10.0.0.1:1234", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonUnauthorized, reply.Envelope().Reason)
	})
}

func TestExternalRequestAuthorization(t *testing.T) {
	s, sessions := newTestService(t)
	ctx := context.Background()

	var gotSession *session.Session
	require.NoError(t, s.RegisterHandler(message.EventDatasetManagement,
		HandlerFunc(func(_ context.Context, _ message.Request, rc *RequestContext) (message.ResponseMessage, error) {
			gotSession = rc.Session
			return message.NewDatasetManagementResponse(true, message.ReasonAccepted, "", nil)
		})))

	listFrame := func(secret string) []byte {
		msg := &message.DatasetManagementMessage{Action: message.ActionListAll}
		msg.ApplySecret(secret)
		return frame(t, msg)
	}

	t.Run("missing secret denied before the handler", func(t *testing.T) {
		reply := s.processFrame(ctx, nil, listFrame(""), "remote", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonUnauthorized, reply.Envelope().Reason)
		assert.Nil(t, gotSession)
	})

	t.Run("unknown secret denied", func(t *testing.T) {
		reply := s.processFrame(ctx, nil, listFrame("bogus"), "remote", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonUnrecognizedSecret, reply.Envelope().Reason)
	})

	t.Run("valid secret reaches the handler with its session", func(t *testing.T) {
		sess, err := sessions.CreateSession("remote", "alice")
		require.NoError(t, err)

		reply := s.processFrame(ctx, nil, listFrame(sess.Secret), "remote", quietLogger())
		require.True(t, reply.Envelope().Success)
		require.NotNil(t, gotSession)
		assert.Equal(t, "alice", gotSession.User)
	})
}

func TestProcessFrameErrors(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	t.Run("non-JSON frame draws no reply", func(t *testing.T) {
		reply := s.processFrame(ctx, nil, []byte("not json"), "remote", quietLogger())
		assert.Nil(t, reply, "the read loop moves on without answering")
	})

	t.Run("JSON matching no request type is answered", func(t *testing.T) {
		reply := s.processFrame(ctx, nil, []byte(`{"mystery":true}`), "remote", quietLogger())
		require.NotNil(t, reply)
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonInvalidMessage, reply.Envelope().Reason)
	})

	t.Run("no handler registered", func(t *testing.T) {
		reply := s.processFrame(ctx, nil,
			frame(t, &message.MetadataMessage{Purpose: message.MetadataConnect}),
			"remote", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonUnsupportedType, reply.Envelope().Reason)
	})
}

// A connection being torn down must receive a final close frame so the peer
// learns the channel is going away rather than seeing an abrupt EOF.
func TestConnectionCloseNotice(t *testing.T) {
	s, _ := newTestService(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connMu.Lock()
		s.connSessions[conn] = ""
		s.connMu.Unlock()
		s.wg.Add(1)
		s.serveConnection(r.Context(), conn, r.RemoteAddr)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	s.shutdownOnce.Do(func() { close(s.shutdown) })

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestDispatchContainment(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	metaFrame := frame(t, &message.MetadataMessage{Purpose: message.MetadataConnect})

	t.Run("handler error becomes an error reply", func(t *testing.T) {
		require.NoError(t, s.RegisterHandler(message.EventMetadata,
			HandlerFunc(func(context.Context, message.Request, *RequestContext) (message.ResponseMessage, error) {
				return nil, errors.New("backend offline")
			})))
		reply := s.processFrame(ctx, nil, metaFrame, "remote", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonHandlerError, reply.Envelope().Reason)
	})

	t.Run("handler panic is contained", func(t *testing.T) {
		s, _ := newTestService(t)
		require.NoError(t, s.RegisterHandler(message.EventMetadata,
			HandlerFunc(func(context.Context, message.Request, *RequestContext) (message.ResponseMessage, error) {
				panic("boom")
			})))
		reply := s.processFrame(ctx, nil, metaFrame, "remote", quietLogger())
		require.NotNil(t, reply)
		assert.False(t, reply.Envelope().Success)
	})

	t.Run("nil reply becomes an error reply", func(t *testing.T) {
		s, _ := newTestService(t)
		require.NoError(t, s.RegisterHandler(message.EventMetadata,
			HandlerFunc(func(context.Context, message.Request, *RequestContext) (message.ResponseMessage, error) {
				return nil, nil
			})))
		reply := s.processFrame(ctx, nil, metaFrame, "remote", quietLogger())
		require.False(t, reply.Envelope().Success)
		assert.Equal(t, message.ReasonHandlerError, reply.Envelope().Reason)
	})
}

// staleSessionManager always serves one session aged past its idle timeout.
type staleSessionManager struct {
	sess    *session.Session
	removed bool
}

func (m *staleSessionManager) CreateSession(string, string) (*session.Session, error) {
	return m.sess, nil
}
func (m *staleSessionManager) LookupByID(int) (*session.Session, bool) { return m.sess, true }
func (m *staleSessionManager) LookupBySecret(secret string) (*session.Session, bool) {
	if secret != m.sess.Secret || m.removed {
		return nil, false
	}
	return m.sess, true
}
func (m *staleSessionManager) LookupByUsername(string) (*session.Session, bool) {
	return m.sess, true
}
func (m *staleSessionManager) RefreshSession(string) bool { return false }
func (m *staleSessionManager) RemoveSession(string)       { m.removed = true }
func (m *staleSessionManager) PurgeExpired() int          { return 0 }

func TestExpiredSessionDenied(t *testing.T) {
	stale := &staleSessionManager{sess: &session.Session{
		ID:           1,
		Secret:       "stale-secret",
		User:         "alice",
		Created:      time.Now().Add(-2 * session.Timeout),
		LastAccessed: time.Now().Add(-session.Timeout - time.Minute),
	}}
	s, err := NewService("test-service",
		Config{ListenAddress: "127.0.0.1:0"},
		security.Config{},
		message.DefaultRegistry(),
		stale,
		nil, nil, nil)
	require.NoError(t, err)

	msg := &message.DatasetManagementMessage{Action: message.ActionListAll}
	msg.ApplySecret("stale-secret")
	reply := s.processFrame(context.Background(), nil, frame(t, msg), "remote", quietLogger())
	require.False(t, reply.Envelope().Success)
	assert.Equal(t, message.ReasonExpiredSession, reply.Envelope().Reason)
	assert.True(t, stale.removed, "expired session is discarded on rejection")
}
