package polling

import (
	"context"
	"errors"
	"time"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/obs"
	"eddie.energy/internal/outbox"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
	"eddie.energy/internal/stream"
	"eddie.energy/internal/upstream"
)

// IdentifiableMeteringData ties an upstream payload to the permission it was
// fetched under, so downstream document mapping knows whose data it holds.
type IdentifiableMeteringData struct {
	PermissionID string            `json:"permission_id"`
	ConnectionID string            `json:"connection_id"`
	DataNeedID   string            `json:"data_need_id"`
	Payload      *upstream.Payload `json:"payload"`
}

// RetryPolicy bounds the 401/429 retry loop in both attempts and elapsed
// time, so an upstream outage cannot hold a sweep open indefinitely.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxElapsed  time.Duration
}

// DefaultRetryPolicy mirrors the pacing used against slow administrators:
// few attempts, generous spacing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Minute,
		MaxElapsed:  10 * time.Minute,
	}
}

// Service fetches metering data for accepted permission requests.
type Service struct {
	repo      store.Repository
	client    upstream.Client
	outbox    *outbox.Outbox
	needs     dataneed.Service
	readings  *stream.Stream[IdentifiableMeteringData]
	retry     RetryPolicy
	negotiate bool
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewService wires the polling service. negotiate enables granularity
// escalation on structurally empty responses; regions whose sources simply
// deliver nothing for quiet periods leave it off.
func NewService(
	repo store.Repository,
	client upstream.Client,
	ob *outbox.Outbox,
	needs dataneed.Service,
	readings *stream.Stream[IdentifiableMeteringData],
	retry RetryPolicy,
	negotiate bool,
) *Service {
	return &Service{
		repo:      repo,
		client:    client,
		outbox:    ob,
		needs:     needs,
		readings:  readings,
		retry:     retry,
		negotiate: negotiate,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
	}
}

// WithClock overrides the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithSleeper overrides the retry sleeper; used by tests.
func (s *Service) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Service {
	s.sleep = sleep
	return s
}

// Sweep polls every accepted permission request from a fresh repository
// snapshot. Outbox commit failures are fatal for the cycle and propagate.
func (s *Service) Sweep(ctx context.Context) error {
	started := s.now()
	defer func() { obs.ObserveSweep("polling", time.Since(started)) }()

	accepted, err := s.repo.FindByStatus(ctx, permission.StatusAccepted)
	if err != nil {
		return err
	}
	var errs []error
	for _, pr := range accepted {
		if err := s.PollTimeSeriesData(ctx, pr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PollTimeSeriesData fetches new readings for one permission request. It is
// a no-op when the request is not accepted or its window has not started;
// the upstream API is not invoked in either case.
func (s *Service) PollTimeSeriesData(ctx context.Context, pr permission.PermissionRequest) error {
	if pr.Status != permission.StatusAccepted {
		obs.ObservePoll("skipped")
		return nil
	}

	startOfToday := startOfDay(s.now())
	if !pr.Start.Before(startOfToday) {
		// The permission window has not started; there is nothing
		// settled upstream yet.
		obs.ObservePoll("skipped")
		return nil
	}

	from := pr.Start
	if pr.LastPulledReading != nil {
		from = *pr.LastPulledReading
	}
	// Never fetch today or future data: same-day readings are incomplete
	// upstream.
	to := startOfToday
	if !pr.End.IsZero() && pr.End.Before(to) {
		to = pr.End
	}
	if !from.Before(to) {
		obs.ObservePoll("skipped")
		return nil
	}

	payload, err := s.fetchAllPages(ctx, upstream.Query{
		MeterID:     pr.MeteringPointID,
		CustomerID:  pr.CustomerID,
		From:        from,
		To:          to,
		Granularity: pr.Granularity,
	})
	if err != nil {
		return s.classifyFailure(ctx, pr, err)
	}

	if payload.Empty() {
		if s.negotiate {
			return s.negotiateGranularity(ctx, pr)
		}
		obs.ObservePoll("empty")
		return nil
	}

	if pr.UsagePointType == "" && payload.UsagePointType != "" {
		if err := s.outbox.Commit(ctx, permission.UsagePointTypeDetermined{
			ID:   pr.PermissionID,
			Type: payload.UsagePointType,
		}); err != nil {
			return err
		}
	}

	// Publish before advancing the watermark, so a crash between the two
	// re-delivers rather than drops readings.
	s.readings.Publish(IdentifiableMeteringData{
		PermissionID: pr.PermissionID,
		ConnectionID: pr.ConnectionID,
		DataNeedID:   pr.DataNeedID,
		Payload:      payload,
	})

	if perMeter := payload.LatestPerMeter(); len(perMeter) > 0 {
		if err := s.outbox.Commit(ctx, permission.PollingResult{
			ID:           pr.PermissionID,
			LastReadings: perMeter,
		}); err != nil {
			return err
		}
	}
	latest, _ := payload.Latest()
	if err := s.outbox.Commit(ctx, permission.MeterReadingAdvanced{
		ID:        pr.PermissionID,
		Watermark: latest,
	}); err != nil {
		return err
	}

	obs.ObservePoll("fetched")
	return nil
}

// classifyFailure maps an upstream failure to its lifecycle consequence:
// 403 revokes the permission, anything else is logged and leaves the state
// untouched so infrastructure flakiness never masquerades as a status change.
func (s *Service) classifyFailure(ctx context.Context, pr permission.PermissionRequest, err error) error {
	if upstream.IsForbidden(err) {
		obs.ObservePoll("revoked")
		obs.LogEvent("polling.revoked", map[string]any{
			"permission_id": pr.PermissionID,
			"error":         err.Error(),
		})
		return s.outbox.Commit(ctx, permission.StatusChanged{
			ID:     pr.PermissionID,
			Status: permission.StatusRevoked,
		})
	}
	obs.ObservePoll("failed")
	obs.LogEvent("polling.failed", map[string]any{
		"permission_id": pr.PermissionID,
		"error":         err.Error(),
	})
	return nil
}

// fetchAllPages follows the upstream cursor until the response is exhausted,
// merging all pages into one payload. A mid-pagination failure aborts the
// whole fetch; the watermark is only advanced once every page is in hand.
func (s *Service) fetchAllPages(ctx context.Context, q upstream.Query) (*upstream.Payload, error) {
	payload, err := s.fetchWithRetry(ctx, q)
	if err != nil {
		return nil, err
	}
	for payload.NextCursor != "" {
		q.Cursor = payload.NextCursor
		page, err := s.fetchWithRetry(ctx, q)
		if err != nil {
			return nil, err
		}
		payload.Series = append(payload.Series, page.Series...)
		if payload.UsagePointType == "" {
			payload.UsagePointType = page.UsagePointType
		}
		payload.NextCursor = page.NextCursor
	}
	return payload, nil
}

// fetchWithRetry retries 401/429 responses with exponential backoff, bounded
// by the retry policy. Any other failure returns immediately.
func (s *Service) fetchWithRetry(ctx context.Context, q upstream.Query) (*upstream.Payload, error) {
	deadline := s.now().Add(s.retry.MaxElapsed)
	delay := s.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		payload, err := s.client.FetchTimeSeries(ctx, q)
		if err == nil {
			return payload, nil
		}
		if !upstream.IsRetryable(err) {
			return nil, err
		}
		if attempt >= s.retry.MaxAttempts || !s.now().Add(delay).Before(deadline) {
			return nil, err
		}
		obs.ObserveUpstreamRetry()
		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
		if delay > s.retry.MaxDelay {
			delay = s.retry.MaxDelay
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
