package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/sitegate/pkg/apperrors"
	"github.com/platinummonkey/sitegate/pkg/audit"
	"github.com/platinummonkey/sitegate/pkg/auth"
	"github.com/platinummonkey/sitegate/pkg/observability"
)

// Manager creates, validates and destroys sessions
type Manager struct {
	store   Store
	sink    audit.Sink
	logger  *observability.Logger
	ids     *auth.TokenGenerator
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithTimeout sets the idle timeout
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager
func NewManager(store Store, sink audit.Sink, logger *observability.Logger, opts ...Option) *Manager {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	m := &Manager{
		store:   store,
		sink:    sink,
		logger:  logger,
		ids:     auth.NewSessionIDGenerator(),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the idle timeout
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Create starts a session for principalID and returns its id
func (m *Manager) Create(ctx context.Context, principalID, email string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(principalID) == "" {
		return "", apperrors.Invalid("principal id is required")
	}

	id, err := m.ids.Generate()
	if err != nil {
		return "", apperrors.Internal("generate session id", err)
	}

	now := m.now().UTC()
	s := &Session{
		ID:             id,
		PrincipalID:    principalID,
		Email:          email,
		CreatedAt:      now,
		LastActivityAt: now,
		Metadata:       metadata,
	}
	if err := m.store.Put(ctx, s, m.timeout); err != nil {
		return "", apperrors.Internal("store session", err)
	}

	entry := audit.NewEntry(principalID, "", audit.ActionSessionCreate, "session", m.ids.DisplayPrefix(id))
	for k, v := range metadata {
		entry.WithMeta(k, v)
	}
	m.writeAudit(ctx, entry)

	return id, nil
}

// Validate checks a session and slides its expiry forward
func (m *Manager) Validate(ctx context.Context, id string) (*Session, error) {
	if id == "" || m.ids.ValidateFormat(id) != nil {
		return nil, apperrors.Unauthenticated(apperrors.CodeSessionInvalid, "invalid session")
	}

	s, err := m.store.Touch(ctx, id, m.now().UTC(), m.timeout)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, apperrors.Unauthenticated(apperrors.CodeSessionInvalid, "invalid session")
	case errors.Is(err, ErrExpired):
		return nil, apperrors.Unauthenticated(apperrors.CodeSessionExpired, "session expired")
	case err != nil:
		return nil, apperrors.Internal("validate session", err)
	}
	return s, nil
}

// Destroy removes a session. Destroying an unknown session is not an error.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	s, err := m.store.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Internal("destroy session", err)
	}

	entry := audit.NewEntry(s.PrincipalID, "", audit.ActionSessionDestroy, "session", m.ids.DisplayPrefix(id)).
		WithMeta("durationSeconds", int64(s.Duration(m.now()).Seconds()))
	m.writeAudit(ctx, entry)
	return nil
}

// Sweep removes every session idle for longer than the timeout
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.store.DeleteIdle(ctx, m.now().UTC().Add(-m.timeout))
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		m.logger.WithField("removed", removed).Info("Swept idle sessions")
	}
	return removed, nil
}

// Count returns the number of live sessions
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

func (m *Manager) writeAudit(ctx context.Context, entry *audit.Entry) {
	if err := m.sink.Write(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("action", string(entry.Action)).Error("Failed to write audit entry")
	}
}
