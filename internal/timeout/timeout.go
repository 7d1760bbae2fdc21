// Package timeout expires permission requests stuck in transient statuses.
// A request waiting on validation or an administrator answer for too long is
// driven to TIMED_OUT so it stops occupying sweeps and so connected
// applications learn the request went nowhere.
package timeout

import (
	"context"
	"errors"
	"time"

	"eddie.energy/internal/obs"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
)

// defaultPaths drives each transient status straight to TIMED_OUT. Regions
// whose administrators expect an intermediate status first override the path
// with WithPath.
func defaultPaths() map[permission.Status][]permission.Status {
	return map[permission.Status][]permission.Status{
		permission.StatusValidated:             {permission.StatusTimedOut},
		permission.StatusSentToPermissionAdmin: {permission.StatusTimedOut},
	}
}

// Service expires stale permission requests.
type Service struct {
	repo      store.Repository
	outbox    *outbox.Outbox
	olderThan time.Duration
	paths     map[permission.Status][]permission.Status
}

// Option configures the timeout service.
type Option func(*Service)

// WithPath replaces the event sequence committed for requests stuck in the
// given status. The last element must be a terminal status, normally
// TIMED_OUT; earlier elements are intermediate statuses committed first,
// in order.
func WithPath(stuck permission.Status, steps ...permission.Status) Option {
	return func(s *Service) {
		s.paths[stuck] = append([]permission.Status(nil), steps...)
	}
}

// NewService builds a sweep that times out requests stuck in a transient
// status for longer than olderThan.
func NewService(repo store.Repository, ob *outbox.Outbox, olderThan time.Duration, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		outbox:    ob,
		olderThan: olderThan,
		paths:     defaultPaths(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep times out every stale transient request. Each run reads a fresh
// snapshot and is idempotent: a request that left the transient set by
// another path is simply absent from the query. Commit failures propagate.
func (s *Service) Sweep(ctx context.Context) error {
	started := time.Now()
	defer func() { obs.ObserveSweep("timeout", time.Since(started)) }()

	transient := make([]permission.Status, 0, len(s.paths))
	for status := range s.paths {
		transient = append(transient, status)
	}
	stale, err := s.repo.FindStale(ctx, s.olderThan, transient...)
	if err != nil {
		return err
	}

	var errs []error
	for _, pr := range stale {
		if err := s.expire(ctx, pr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expire commits the configured event sequence for one stuck request, in
// order, stopping at the first commit failure.
func (s *Service) expire(ctx context.Context, pr permission.PermissionRequest) error {
	obs.LogEvent("timeout.expiring", map[string]any{
		"permission_id": pr.PermissionID,
		"status":        string(pr.Status),
		"status_age":    time.Since(pr.StatusChangedAt).String(),
	})

	for _, next := range s.paths[pr.Status] {
		msg := ""
		if next == permission.StatusTimedOut {
			msg = "permission request timed out"
		}
		if err := s.outbox.Commit(ctx, permission.StatusChanged{
			ID:      pr.PermissionID,
			Status:  next,
			Message: msg,
		}); err != nil {
			return err
		}
	}
	return nil
}
