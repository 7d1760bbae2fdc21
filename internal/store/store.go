package store

import (
	"context"
	"time"

	"eddie.energy/internal/permission"
)

// Repository is the single source of truth for permission-request state. The
// polling and timeout sweeps only ever read fresh snapshots through it and
// write through the outbox's commit path.
type Repository interface {
	// FindByPermissionID returns the request or permission.ErrNotFound.
	FindByPermissionID(ctx context.Context, permissionID string) (permission.PermissionRequest, error)
	// FindByStatus returns all requests currently in the given status.
	FindByStatus(ctx context.Context, status permission.Status) ([]permission.PermissionRequest, error)
	// FindStale returns requests that entered one of the given transient
	// statuses longer than olderThan ago. Terminal statuses are never
	// returned regardless of the filter.
	FindStale(ctx context.Context, olderThan time.Duration, statuses ...permission.Status) ([]permission.PermissionRequest, error)
	// Save inserts or replaces the request keyed by its permission id.
	Save(ctx context.Context, pr permission.PermissionRequest) error
}
