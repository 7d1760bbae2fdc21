package store

import (
	"context"
	"testing"
	"time"

	"eddie.energy/internal/permission"
)

func save(t *testing.T, s *InMemory, id string, status permission.Status, age time.Duration) {
	t.Helper()
	err := s.Save(context.Background(), permission.PermissionRequest{
		PermissionID:    id,
		ConnectionID:    "c1",
		DataNeedID:      "n1",
		Status:          status,
		Created:         time.Now().UTC().Add(-age),
		StatusChangedAt: time.Now().UTC().Add(-age),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFindByPermissionID(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.FindByPermissionID(ctx, "missing"); err != permission.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	save(t, s, "p1", permission.StatusAccepted, time.Hour)
	pr, err := s.FindByPermissionID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != permission.StatusAccepted {
		t.Fatalf("unexpected status %s", pr.Status)
	}
}

func TestFindByStatus(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	save(t, s, "p1", permission.StatusAccepted, time.Hour)
	save(t, s, "p2", permission.StatusAccepted, time.Hour)
	save(t, s, "p3", permission.StatusRevoked, time.Hour)

	res, err := s.FindByStatus(ctx, permission.StatusAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 accepted, got %d", len(res))
	}
}

func TestFindStaleFiltersStatusAgeAndTerminal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	save(t, s, "stale", permission.StatusValidated, 72*time.Hour)
	save(t, s, "fresh", permission.StatusValidated, time.Hour)
	save(t, s, "other-status", permission.StatusAccepted, 72*time.Hour)
	save(t, s, "terminal", permission.StatusRejected, 72*time.Hour)

	res, err := s.FindStale(ctx, 48*time.Hour, permission.StatusValidated, permission.StatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].PermissionID != "stale" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSnapshotsDoNotAliasStoredState(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	ts := time.Now().UTC()
	err := s.Save(ctx, permission.PermissionRequest{
		PermissionID:    "p1",
		Status:          permission.StatusAccepted,
		LastReadings:    map[string]time.Time{"m1": ts},
		StatusChangedAt: ts,
	})
	if err != nil {
		t.Fatal(err)
	}

	pr, err := s.FindByPermissionID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	pr.LastReadings["m1"] = ts.AddDate(0, 0, 5)
	pr.Status = permission.StatusRevoked

	again, err := s.FindByPermissionID(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != permission.StatusAccepted || !again.LastReadings["m1"].Equal(ts) {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}
