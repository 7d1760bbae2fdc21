package outbox

import (
	"context"
	"fmt"
	"time"

	"eddie.energy/internal/audit"
	"eddie.energy/internal/ids"
	"eddie.energy/internal/obs"
	"eddie.energy/internal/permission"
	"eddie.energy/internal/store"
	"eddie.energy/internal/stream"
)

// Outbox is the single choke point for permission lifecycle changes. Commit
// applies an event to the persisted request and publishes the projected
// connection-status message, in that order. A failed persist never publishes;
// publication is at-least-once and consumers are expected to tolerate
// duplicate identical messages, never out-of-order ones.
type Outbox struct {
	repo     store.Repository
	machine  *permission.Machine
	statuses *stream.Stream[permission.ConnectionStatusMessage]
	source   permission.DataSource
	now      func() time.Time
}

func New(
	repo store.Repository,
	machine *permission.Machine,
	statuses *stream.Stream[permission.ConnectionStatusMessage],
	source permission.DataSource,
) *Outbox {
	return &Outbox{
		repo:     repo,
		machine:  machine,
		statuses: statuses,
		source:   source,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the commit clock; used by tests.
func (o *Outbox) WithClock(now func() time.Time) *Outbox {
	o.now = now
	return o
}

// Commit applies ev to its permission request and publishes the resulting
// status message. Storage failures propagate to the caller: silently
// dropping a commit would corrupt the observed status history.
func (o *Outbox) Commit(ctx context.Context, ev permission.Event) error {
	kind := eventKind(ev)
	at := o.now()

	var pr permission.PermissionRequest
	if _, isCreation := ev.(permission.Created); !isCreation {
		var err error
		pr, err = o.repo.FindByPermissionID(ctx, ev.PermissionID())
		if err != nil {
			obs.ObserveOutboxCommit(kind, "not_found")
			return fmt.Errorf("load permission request %s: %w", ev.PermissionID(), err)
		}
	}

	if err := ev.Apply(o.machine, &pr, at); err != nil {
		obs.ObserveOutboxCommit(kind, "illegal_transition")
		return err
	}

	if err := o.repo.Save(ctx, pr); err != nil {
		obs.ObserveOutboxCommit(kind, "storage_error")
		return fmt.Errorf("persist event %s for permission %s: %w", kind, ev.PermissionID(), err)
	}

	_ = audit.LogEvent(ctx, "permission."+kind, map[string]any{
		"event_id":      ids.New(),
		"permission_id": pr.PermissionID,
		"status":        string(pr.Status),
	})

	if msg, publish := o.project(ev, pr, at); publish {
		o.statuses.Publish(msg)
	}

	obs.ObserveOutboxCommit(kind, "ok")
	return nil
}

// project builds the outward status message for an event. Internal
// bookkeeping events are not published.
func (o *Outbox) project(ev permission.Event, pr permission.PermissionRequest, at time.Time) (permission.ConnectionStatusMessage, bool) {
	msg := permission.ConnectionStatusMessage{
		PermissionID: pr.PermissionID,
		ConnectionID: pr.ConnectionID,
		DataNeedID:   pr.DataNeedID,
		DataSource:   o.source,
		Timestamp:    at,
		Status:       pr.Status,
		Message:      pr.Message,
	}
	switch e := ev.(type) {
	case permission.PollingResult:
		return permission.ConnectionStatusMessage{}, false
	case permission.GranularityUpdated:
		msg.Additional = map[string]any{"granularity": string(e.Granularity)}
	case permission.MeterReadingAdvanced:
		msg.Additional = map[string]any{"last_pulled_reading": e.Watermark.Format(time.RFC3339)}
	case permission.UsagePointTypeDetermined:
		msg.Additional = map[string]any{"usage_point_type": e.Type}
	}
	return msg, true
}

func eventKind(ev permission.Event) string {
	switch ev.(type) {
	case permission.Created:
		return "created"
	case permission.Validated:
		return "validated"
	case permission.Malformed:
		return "malformed"
	case permission.StatusChanged:
		return "status_changed"
	case permission.UsagePointTypeDetermined:
		return "usage_point_type_determined"
	case permission.GranularityUpdated:
		return "granularity_updated"
	case permission.MeterReadingAdvanced:
		return "meter_reading_advanced"
	case permission.PollingResult:
		return "polling_result"
	default:
		return "unknown"
	}
}
