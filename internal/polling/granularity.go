package polling

import (
	"context"
	"errors"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/obs"
	"eddie.energy/internal/permission"
)

// negotiateGranularity reacts to a structurally empty payload: the source
// cannot deliver at the requested granularity, so step up to the next coarser
// granularity the data need still allows, or give up on the request.
// Each escalation strictly coarsens, so repeated empty responses terminate
// at the coarsest supported granularity and then UNFULFILLABLE.
func (s *Service) negotiateGranularity(ctx context.Context, pr permission.PermissionRequest) error {
	need, err := s.needs.GetByID(ctx, pr.DataNeedID)
	if err != nil {
		if errors.Is(err, dataneed.ErrNotFound) {
			return s.unfulfillable(ctx, pr, "data need no longer exists")
		}
		return err
	}
	if need.Kind != dataneed.ValidatedHistoricalData {
		// Only historical-data needs carry a granularity ladder to climb.
		return s.unfulfillable(ctx, pr, "empty response for non-negotiable data need")
	}

	next, ok := dataneed.NextCoarser(need.Granularities, pr.Granularity)
	if !ok {
		return s.unfulfillable(ctx, pr, "no coarser granularity supported")
	}

	obs.ObservePoll("granularity_updated")
	obs.LogEvent("polling.granularity_updated", map[string]any{
		"permission_id": pr.PermissionID,
		"from":          string(pr.Granularity),
		"to":            string(next),
	})
	return s.outbox.Commit(ctx, permission.GranularityUpdated{
		ID:          pr.PermissionID,
		Granularity: next,
	})
}

func (s *Service) unfulfillable(ctx context.Context, pr permission.PermissionRequest, reason string) error {
	obs.ObservePoll("unfulfillable")
	obs.LogEvent("polling.unfulfillable", map[string]any{
		"permission_id": pr.PermissionID,
		"reason":        reason,
	})
	return s.outbox.Commit(ctx, permission.StatusChanged{
		ID:      pr.PermissionID,
		Status:  permission.StatusUnfulfillable,
		Message: reason,
	})
}
