package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookup(t *testing.T) {
	m := NewInMemoryManager()

	s, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ID)
	assert.Equal(t, "alice", s.User)
	assert.Len(t, s.Secret, SecretLength)

	byID, ok := m.LookupByID(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.Secret, byID.Secret)

	bySecret, ok := m.LookupBySecret(s.Secret)
	require.True(t, ok)
	assert.Equal(t, s.ID, bySecret.ID)

	_, ok = m.LookupBySecret("no-such-secret")
	assert.False(t, ok)

	t.Run("ids are sequential", func(t *testing.T) {
		s2, err := m.CreateSession("10.0.0.2", "bob")
		require.NoError(t, err)
		assert.Equal(t, 2, s2.ID)
	})

	t.Run("secrets are unique", func(t *testing.T) {
		s3, err := m.CreateSession("10.0.0.3", "carol")
		require.NoError(t, err)
		assert.NotEqual(t, s.Secret, s3.Secret)
	})
}

func TestLookupByUsernamePicksNewest(t *testing.T) {
	m := NewInMemoryManager()
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	first, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)

	got, ok := m.LookupByUsername("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
	assert.NotEqual(t, first.ID, got.ID)

	_, ok = m.LookupByUsername("nobody")
	assert.False(t, ok)
}

func TestRefreshAndExpiry(t *testing.T) {
	m := NewInMemoryManager()
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	s, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)

	t.Run("refresh inside timeout succeeds", func(t *testing.T) {
		clock = base.Add(Timeout - time.Minute)
		assert.True(t, m.RefreshSession(s.Secret))
	})

	t.Run("refresh extends the window", func(t *testing.T) {
		clock = base.Add(2*Timeout - 2*time.Minute)
		assert.True(t, m.RefreshSession(s.Secret))
	})

	t.Run("expired session cannot refresh", func(t *testing.T) {
		clock = clock.Add(Timeout + time.Minute)
		assert.False(t, m.RefreshSession(s.Secret))
	})

	t.Run("unknown secret cannot refresh", func(t *testing.T) {
		assert.False(t, m.RefreshSession("bogus"))
	})
}

func TestRemoveSession(t *testing.T) {
	m := NewInMemoryManager()
	s, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)

	m.RemoveSession(s.Secret)
	_, ok := m.LookupBySecret(s.Secret)
	assert.False(t, ok)
	_, ok = m.LookupByID(s.ID)
	assert.False(t, ok)

	// Removing again is a no-op.
	m.RemoveSession(s.Secret)
}

func TestPurgeExpired(t *testing.T) {
	m := NewInMemoryManager()
	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	stale, err := m.CreateSession("10.0.0.1", "alice")
	require.NoError(t, err)

	clock = base.Add(Timeout / 2)
	fresh, err := m.CreateSession("10.0.0.2", "bob")
	require.NoError(t, err)

	clock = base.Add(Timeout + time.Minute)
	assert.Equal(t, 1, m.PurgeExpired())

	_, ok := m.LookupBySecret(stale.Secret)
	assert.False(t, ok)
	_, ok = m.LookupBySecret(fresh.Secret)
	assert.True(t, ok)
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{LastAccessed: now}

	assert.False(t, s.IsExpired(now.Add(Timeout)))
	assert.True(t, s.IsExpired(now.Add(Timeout+time.Second)))
}
