package permission

import (
	"errors"
	"time"

	"eddie.energy/internal/dataneed"
)

// ErrNotFound indicates an unknown permission id.
var ErrNotFound = errors.New("permission request not found")

// PermissionRequest tracks one user's consent grant through its lifecycle.
// Only the current status is held here; the status history is reconstructable
// from the events committed through the outbox.
type PermissionRequest struct {
	PermissionID string `json:"permission_id"`
	ConnectionID string `json:"connection_id"`
	DataNeedID   string `json:"data_need_id"`

	Created time.Time `json:"created"`
	// Start and End bound the requested data window. End may lie in the
	// future for open-ended permissions.
	Start       time.Time            `json:"start"`
	End         time.Time            `json:"end"`
	Granularity dataneed.Granularity `json:"granularity"`
	EnergyType  dataneed.EnergyType  `json:"energy_type"`

	// LastPulledReading is the watermark of the most recent metering data
	// successfully retrieved. Nil until the first successful fetch.
	LastPulledReading *time.Time `json:"last_pulled_reading,omitempty"`
	// LastReadings tracks per-meter watermarks for regions with several
	// meters under one permission.
	LastReadings map[string]time.Time `json:"last_readings,omitempty"`

	// Region-specific attributes, carried but not interpreted by the
	// lifecycle engine.
	MeteringPointID string `json:"metering_point_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	UsagePointType  string `json:"usage_point_type,omitempty"`

	Status Status `json:"status"`
	// StatusChangedAt records when the current status was entered; the
	// timeout sweep uses it to find stale transient requests.
	StatusChangedAt time.Time `json:"status_changed_at"`
	// Message carries the human-readable reason for terminal error
	// statuses such as MALFORMED.
	Message string `json:"message,omitempty"`
}

// LatestMeterReading returns the watermark for one meter, falling back to the
// permission-wide watermark.
func (pr *PermissionRequest) LatestMeterReading(meterID string) (time.Time, bool) {
	if ts, ok := pr.LastReadings[meterID]; ok {
		return ts, true
	}
	if pr.LastPulledReading != nil {
		return *pr.LastPulledReading, true
	}
	return time.Time{}, false
}

// Clone returns a deep copy so repository snapshots never alias live state.
func (pr PermissionRequest) Clone() PermissionRequest {
	out := pr
	if pr.LastPulledReading != nil {
		ts := *pr.LastPulledReading
		out.LastPulledReading = &ts
	}
	if pr.LastReadings != nil {
		out.LastReadings = make(map[string]time.Time, len(pr.LastReadings))
		for k, v := range pr.LastReadings {
			out.LastReadings[k] = v
		}
	}
	return out
}
