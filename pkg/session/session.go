// Package session tracks short-lived session state for authenticated
// principals. A session slides forward on every validated use and expires
// after a period of inactivity, independent of the credential's own lifetime.
package session

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout is the idle period after which a session expires
const DefaultTimeout = 30 * time.Minute

var (
	// ErrNotFound is returned by a Store for an unknown session id
	ErrNotFound = errors.New("session: not found")
	// ErrExpired is returned by Store.Touch after it removed an idle session
	ErrExpired = errors.New("session: expired")
)

// Session is the server-side state behind a session id
type Session struct {
	ID             string            `json:"id"`
	PrincipalID    string            `json:"principalId"`
	Email          string            `json:"email,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Duration returns how long the session has existed at now
func (s *Session) Duration(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Store persists sessions. Every method must be safe for concurrent use.
type Store interface {
	// Put stores a new session
	Put(ctx context.Context, s *Session, timeout time.Duration) error

	// Touch atomically checks and refreshes a session. An unknown id yields
	// ErrNotFound. A session idle for longer than timeout is deleted and
	// ErrExpired is returned. Otherwise LastActivityAt becomes now and the
	// updated session is returned.
	Touch(ctx context.Context, id string, now time.Time, timeout time.Duration) (*Session, error)

	// Delete removes a session and returns it, or returns ErrNotFound
	Delete(ctx context.Context, id string) (*Session, error)

	// DeleteIdle removes sessions whose last activity is before cutoff
	DeleteIdle(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of stored sessions
	Count(ctx context.Context) (int, error)
}

func cloneSession(s *Session) *Session {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
