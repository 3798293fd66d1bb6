package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

// Manager is the capability for creating and looking up sessions. The
// manager's table is the single source of truth for session validity.
type Manager interface {
	// CreateSession records a new session for a user whose credentials have
	// already been verified by the caller.
	CreateSession(ip, username string) (*Session, error)
	// LookupByID finds a session by numeric id.
	LookupByID(id int) (*Session, bool)
	// LookupBySecret finds a session by its secret token.
	LookupBySecret(secret string) (*Session, bool)
	// LookupByUsername finds the most recently created session for a user.
	LookupByUsername(username string) (*Session, bool)
	// RefreshSession bumps last-accessed if the session is still known and
	// unexpired, reporting whether it was refreshed.
	RefreshSession(secret string) bool
	// RemoveSession destroys a session.
	RemoveSession(secret string)
	// PurgeExpired removes every expired session, returning the count.
	PurgeExpired() int
}

// InMemoryManager is a mutex-guarded Manager. All mutations lock; the table
// is shared across connection-handler goroutines.
type InMemoryManager struct {
	mu       sync.RWMutex
	nextID   int
	bySecret map[string]*Session
	byID     map[int]*Session
	now      func() time.Time
}

var _ Manager = (*InMemoryManager)(nil)

// NewInMemoryManager creates an empty session manager.
func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		nextID:   1,
		bySecret: make(map[string]*Session),
		byID:     make(map[int]*Session),
		now:      time.Now,
	}
}

// CreateSession records a new session for an authenticated user.
func (m *InMemoryManager) CreateSession(ip, username string) (*Session, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, errors.WrapFatal(err, "InMemoryManager", "CreateSession", "generate secret")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Secrets are 256-bit random values; a collision means a broken
	// entropy source, not bad luck.
	if _, exists := m.bySecret[secret]; exists {
		return nil, errors.WrapFatal(
			fmt.Errorf("generated secret collides with existing session"),
			"InMemoryManager", "CreateSession", "uniqueness check")
	}

	now := m.now().UTC()
	s := &Session{
		ID:           m.nextID,
		Secret:       secret,
		User:         username,
		IPAddress:    ip,
		Created:      now,
		LastAccessed: now,
	}
	m.nextID++
	m.bySecret[secret] = s
	m.byID[s.ID] = s
	return copySession(s), nil
}

// LookupByID finds a session by numeric id.
func (m *InMemoryManager) LookupByID(id int) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

// LookupBySecret finds a session by its secret token.
func (m *InMemoryManager) LookupBySecret(secret string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySecret[secret]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

// LookupByUsername finds the most recently created session for a user.
func (m *InMemoryManager) LookupByUsername(username string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Session
	for _, s := range m.bySecret {
		if s.User != username {
			continue
		}
		if latest == nil || s.Created.After(latest.Created) {
			latest = s
		}
	}
	if latest == nil {
		return nil, false
	}
	return copySession(latest), true
}

// RefreshSession bumps last-accessed for a known, unexpired session.
func (m *InMemoryManager) RefreshSession(secret string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySecret[secret]
	if !ok || s.IsExpired(m.now()) {
		return false
	}
	s.LastAccessed = m.now().UTC()
	return true
}

// RemoveSession destroys a session. Removing an unknown secret is a no-op.
func (m *InMemoryManager) RemoveSession(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.bySecret[secret]; ok {
		delete(m.byID, s.ID)
		delete(m.bySecret, secret)
	}
}

// PurgeExpired removes every expired session and returns how many were
// removed. Intended for a periodic background task.
func (m *InMemoryManager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	purged := 0
	for secret, s := range m.bySecret {
		if s.IsExpired(now) {
			delete(m.byID, s.ID)
			delete(m.bySecret, secret)
			purged++
		}
	}
	return purged
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}
