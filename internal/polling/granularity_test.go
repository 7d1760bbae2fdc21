package polling

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/permission"
)

func TestEmptyResponseEscalatesGranularity(t *testing.T) {
	f := newFixture(t, true)
	pr := acceptedRequest(testNow.AddDate(0, 0, -10), testNow)
	f.seed(t, pr)
	f.sim.RequireGranularity(dataneed.PT1H) // finer fetches come back empty
	ctx := context.Background()

	require.NoError(t, f.svc.PollTimeSeriesData(ctx, pr))

	got, err := f.repo.FindByPermissionID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, permission.StatusAccepted, got.Status, "status unchanged on escalation")
	require.Equal(t, dataneed.PT1H, got.Granularity, "PT15M escalates to PT1H")

	msgs := drain(f.statuses)
	require.Len(t, msgs, 1)
	require.Equal(t, "PT1H", msgs[0].Additional["granularity"])
	require.Empty(t, drain(f.readings))
}

func TestEscalationTerminatesAtCoarsestSupported(t *testing.T) {
	f := newFixture(t, true)
	pr := acceptedRequest(testNow.AddDate(0, 0, -10), testNow)
	pr.Granularity = dataneed.PT1H // already the coarsest the need supports
	f.seed(t, pr)
	f.sim.RequireGranularity(dataneed.P1D)
	ctx := context.Background()

	require.NoError(t, f.svc.PollTimeSeriesData(ctx, pr))

	got, err := f.repo.FindByPermissionID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, permission.StatusUnfulfillable, got.Status)

	msgs := drain(f.statuses)
	require.Len(t, msgs, 1)
	require.Equal(t, permission.StatusUnfulfillable, msgs[0].Status)
}

func TestEmptyResponseForNonNegotiableNeedIsUnfulfillable(t *testing.T) {
	f := newFixture(t, true)
	f.needs.Put(dataneed.DataNeed{
		ID:         "n1",
		Kind:       dataneed.AccountingPointData,
		EnergyType: dataneed.Electricity,
	})
	pr := acceptedRequest(testNow.AddDate(0, 0, -10), testNow)
	f.seed(t, pr)
	f.sim.RequireGranularity(dataneed.P1M)
	ctx := context.Background()

	require.NoError(t, f.svc.PollTimeSeriesData(ctx, pr))

	got, err := f.repo.FindByPermissionID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, permission.StatusUnfulfillable, got.Status)
}

func TestEmptyResponseWithoutNegotiationIsNoOp(t *testing.T) {
	f := newFixture(t, false)
	pr := acceptedRequest(testNow.AddDate(0, 0, -10), testNow)
	f.seed(t, pr)
	f.sim.RequireGranularity(dataneed.PT1H)
	ctx := context.Background()

	require.NoError(t, f.svc.PollTimeSeriesData(ctx, pr))

	got, err := f.repo.FindByPermissionID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, permission.StatusAccepted, got.Status)
	require.Equal(t, dataneed.PT15M, got.Granularity)
	require.Nil(t, got.LastPulledReading)
	require.Empty(t, drain(f.statuses))
}
