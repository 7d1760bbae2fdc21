package store

import (
	"context"
	"sync"
	"time"

	"eddie.energy/internal/permission"
)

// InMemory implements Repository with in-process concurrency safety. Used by
// tests and the smoke binary; production deployments use store/pg.
type InMemory struct {
	mu       sync.RWMutex
	requests map[string]permission.PermissionRequest
	now      func() time.Time
}

var _ Repository = (*InMemory)(nil)

// NewInMemory creates an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[string]permission.PermissionRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemory) FindByPermissionID(ctx context.Context, permissionID string) (permission.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.requests[permissionID]
	if !ok {
		return permission.PermissionRequest{}, permission.ErrNotFound
	}
	return pr.Clone(), nil
}

func (s *InMemory) FindByStatus(ctx context.Context, status permission.Status) ([]permission.PermissionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []permission.PermissionRequest
	for _, pr := range s.requests {
		if pr.Status == status {
			res = append(res, pr.Clone())
		}
	}
	return res, nil
}

func (s *InMemory) FindStale(ctx context.Context, olderThan time.Duration, statuses ...permission.Status) ([]permission.PermissionRequest, error) {
	cutoff := s.now().Add(-olderThan)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []permission.PermissionRequest
	for _, pr := range s.requests {
		if pr.Status.Terminal() || !pr.StatusChangedAt.Before(cutoff) {
			continue
		}
		for _, status := range statuses {
			if pr.Status == status {
				res = append(res, pr.Clone())
				break
			}
		}
	}
	return res, nil
}

func (s *InMemory) Save(ctx context.Context, pr permission.PermissionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[pr.PermissionID] = pr.Clone()
	return nil
}
