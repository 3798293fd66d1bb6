// Package session provides the authenticated session entity and the manager
// owning the canonical session table.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Timeout is how long a session stays valid without being refreshed.
const Timeout = 30 * time.Minute

// SecretLength is the hex-character length of a session secret.
const SecretLength = 64

// Session is an authenticated client context. The manager exclusively owns
// the canonical record; connection handlers hold only the secret as a weak
// lookup key and must never treat their mapping as proof of validity.
type Session struct {
	ID           int       `json:"session_id"`
	Secret       string    `json:"session_secret"`
	User         string    `json:"user"`
	IPAddress    string    `json:"ip_address"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
}

// IsExpired reports whether the session has been idle past the timeout.
func (s *Session) IsExpired(now time.Time) bool {
	return now.Sub(s.LastAccessed) > Timeout
}

// newSecret generates a 64-hex-character random token.
func newSecret() (string, error) {
	buf := make([]byte, SecretLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
