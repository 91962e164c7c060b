package policy

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process MembershipStore for development and tests
type MemoryStore struct {
	mu          sync.RWMutex
	memberships map[string]Membership
	access      map[string]ModuleAccess
}

// NewMemoryStore creates an empty membership store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memberships: make(map[string]Membership),
		access:      make(map[string]ModuleAccess),
	}
}

func accessKey(userID, projectID string, module Module) string {
	return userID + "\x00" + projectID + "\x00" + string(module)
}

func (s *MemoryStore) GetMembership(ctx context.Context, userID, projectID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[cacheKey(userID, projectID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMembership(&m), nil
}

func (s *MemoryStore) GetModuleAccess(ctx context.Context, userID, projectID string, module Module) (*ModuleAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.access[accessKey(userID, projectID, module)]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListModuleAccess(ctx context.Context, userID, projectID string) ([]ModuleAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ModuleAccess
	for _, a := range s.access {
		if a.UserID == userID && a.ProjectID == projectID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Module < result[j].Module })
	return result, nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var projects []string
	for _, m := range s.memberships {
		if m.UserID == userID {
			projects = append(projects, m.ProjectID)
		}
	}
	sort.Strings(projects)
	return projects, nil
}

func (s *MemoryStore) PutMembership(ctx context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneMembership(m)
	if existing, ok := s.memberships[cacheKey(m.UserID, m.ProjectID)]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.memberships[cacheKey(m.UserID, m.ProjectID)] = *stored
	return nil
}

func (s *MemoryStore) DeleteMembership(ctx context.Context, userID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cacheKey(userID, projectID)
	if _, ok := s.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, key)
	for k, a := range s.access {
		if a.UserID == userID && a.ProjectID == projectID {
			delete(s.access, k)
		}
	}
	return nil
}

func (s *MemoryStore) PutModuleAccess(ctx context.Context, a *ModuleAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access[accessKey(a.UserID, a.ProjectID, a.Module)] = *a
	return nil
}

func cloneMembership(m *Membership) *Membership {
	c := *m
	if m.AccessWindow != nil {
		w := *m.AccessWindow
		w.DaysOfWeek = append([]time.Weekday(nil), m.AccessWindow.DaysOfWeek...)
		c.AccessWindow = &w
	}
	return &c
}

var _ MembershipStore = (*MemoryStore)(nil)
