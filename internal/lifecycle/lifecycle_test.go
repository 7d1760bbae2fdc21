package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
	"eddie.energy/internal/stream"
)

func newService(t *testing.T) (*Service, *store.InMemory) {
	t.Helper()
	repo := store.NewInMemory()
	needs := dataneed.NewInMemory(dataneed.DataNeed{
		ID:              "hourly-only",
		Kind:            dataneed.ValidatedHistoricalData,
		EnergyType:      dataneed.Electricity,
		Granularities:   []dataneed.Granularity{dataneed.PT1H},
		MaxLookbackDays: 365,
	})
	statuses := stream.New[permission.ConnectionStatusMessage](32)
	machine := permission.NewMachine(permission.DefaultTable())
	ob := outbox.New(repo, machine, statuses, permission.DataSource{CountryCode: "FR", AdministratorID: "admin"})
	return NewService(needs, ob, nil), repo
}

func TestCreateValidRequest(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := svc.Create(ctx, CreationRequest{
		ConnectionID:    "c1",
		DataNeedID:      "hourly-only",
		MeteringPointID: "mp-1",
		Start:           now.AddDate(0, 0, -30),
		End:             now,
		Granularity:     dataneed.PT1H,
		EnergyType:      dataneed.Electricity,
	})
	if err != nil {
		t.Fatal(err)
	}

	pr, err := repo.FindByPermissionID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != permission.StatusValidated {
		t.Fatalf("expected VALIDATED, got %s", pr.Status)
	}
	if pr.MeteringPointID != "mp-1" || pr.Granularity != dataneed.PT1H {
		t.Fatalf("attributes not carried: %+v", pr)
	}
}

func TestCreateUnsupportedGranularityIsMalformed(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := svc.Create(ctx, CreationRequest{
		ConnectionID: "c1",
		DataNeedID:   "hourly-only",
		Start:        now.AddDate(0, 0, -10),
		End:          now,
		Granularity:  dataneed.PT15M,
		EnergyType:   dataneed.Electricity,
	})
	if err != nil {
		t.Fatal(err)
	}

	pr, err := repo.FindByPermissionID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != permission.StatusMalformed {
		t.Fatalf("expected MALFORMED, got %s", pr.Status)
	}
	if !strings.Contains(pr.Message, "granularity") {
		t.Fatalf("message should mention granularity: %q", pr.Message)
	}
	if strings.Count(pr.Message, ";") != 0 {
		t.Fatalf("expected exactly one validation error, got %q", pr.Message)
	}
}

func TestCreateUnknownDataNeedFails(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	id, err := svc.Create(ctx, CreationRequest{
		ConnectionID: "c1",
		DataNeedID:   "ghost",
	})
	if !errors.Is(err, dataneed.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if id != "" {
		t.Fatalf("no permission id on a failed resolution, got %q", id)
	}

	created, err := repo.FindByStatus(ctx, permission.StatusCreated)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Fatalf("no request may exist for an unknown need, got %d", len(created))
	}
}

func TestRequestAuthorizationWithoutFlow(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.RequestAuthorization(context.Background(), "p1"); err == nil {
		t.Fatal("expected error when no authorization flow is configured")
	}
}
