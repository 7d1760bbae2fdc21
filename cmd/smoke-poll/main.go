package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/lifecycle"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/polling"
	"eddie.energy/internal/store"
	"eddie.energy/internal/stream"
	"eddie.energy/internal/upstream/sim"
)

// Drives one permission through create -> accept -> poll against the
// simulated upstream and verifies the lifecycle end to end.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo := store.NewInMemory()
	needs := dataneed.NewInMemory(dataneed.DataNeed{
		ID:              "smoke-need",
		Kind:            dataneed.ValidatedHistoricalData,
		EnergyType:      dataneed.Electricity,
		Granularities:   []dataneed.Granularity{dataneed.PT15M, dataneed.PT1H, dataneed.P1D},
		MaxLookbackDays: 365,
	})

	statuses := stream.New[permission.ConnectionStatusMessage](64)
	readings := stream.New[polling.IdentifiableMeteringData](64)
	statusCh := statuses.Subscribe(ctx)
	readingCh := readings.Subscribe(ctx)

	machine := permission.NewMachine(permission.DefaultTable())
	ob := outbox.New(repo, machine, statuses, permission.DataSource{
		CountryCode:     "AT",
		AdministratorID: "smoke-admin",
	})
	lc := lifecycle.NewService(needs, ob, nil)

	upstreamSim := sim.New()
	poller := polling.NewService(repo, upstreamSim, ob, needs, readings,
		polling.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxElapsed: time.Second},
		true)

	now := time.Now().UTC()
	permissionID, err := lc.Create(ctx, lifecycle.CreationRequest{
		ConnectionID:    "smoke-conn",
		DataNeedID:      "smoke-need",
		MeteringPointID: "AT0010000000000000000000000000001",
		Start:           now.AddDate(0, 0, -10),
		End:             now,
		Granularity:     dataneed.PT1H,
		EnergyType:      dataneed.Electricity,
	})
	if err != nil {
		log.Fatalf("create permission: %v", err)
	}

	pr, err := repo.FindByPermissionID(ctx, permissionID)
	if err != nil {
		log.Fatalf("load permission: %v", err)
	}
	if pr.Status != permission.StatusValidated {
		log.Fatalf("expected VALIDATED after create, got %s", pr.Status)
	}

	// Administrator hand-off happens out of band in this setup.
	for _, next := range []permission.Status{
		permission.StatusSentToPermissionAdmin,
		permission.StatusAccepted,
	} {
		if err := ob.Commit(ctx, permission.StatusChanged{ID: permissionID, Status: next}); err != nil {
			log.Fatalf("advance to %s: %v", next, err)
		}
	}

	if err := poller.Sweep(ctx); err != nil {
		log.Fatalf("polling sweep: %v", err)
	}

	pr, err = repo.FindByPermissionID(ctx, permissionID)
	if err != nil {
		log.Fatalf("reload permission: %v", err)
	}
	if pr.LastPulledReading == nil {
		log.Fatal("watermark not advanced after successful poll")
	}

	select {
	case data := <-readingCh:
		if data.PermissionID != permissionID || data.Payload.Empty() {
			log.Fatalf("unexpected readings payload for %s", data.PermissionID)
		}
	default:
		log.Fatal("no readings published")
	}

	observed := 0
drain:
	for {
		select {
		case <-statusCh:
			observed++
		default:
			break drain
		}
	}
	// created, validated, sent, accepted, watermark advance
	if observed < 5 {
		log.Fatalf("expected at least 5 status messages, got %d", observed)
	}

	fmt.Printf("✅ polling smoke test passed: permission=%s watermark=%s\n",
		permissionID, pr.LastPulledReading.Format(time.RFC3339))
}
