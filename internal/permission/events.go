package permission

import (
	"strings"
	"time"

	"eddie.energy/internal/dataneed"
)

// Event is one committed change in a permission request's lifecycle. Events
// are created once per meaningful state change, applied to the persisted
// request, and projected into an outward connection-status message. They are
// never mutated after commit.
type Event interface {
	// PermissionID identifies the event stream the event belongs to.
	PermissionID() string
	// Apply mutates pr according to the event, using m to enforce
	// transition legality. A failed Apply leaves pr unchanged.
	Apply(m *Machine, pr *PermissionRequest, at time.Time) error
}

// Created starts a new permission request's event stream. The outbox builds
// a fresh request from it rather than loading one. MeteringPointID and
// CustomerID are region-specific attributes carried opaquely.
type Created struct {
	ID              string
	ConnectionID    string
	DataNeedID      string
	MeteringPointID string
	CustomerID      string
}

func (e Created) PermissionID() string { return e.ID }

func (e Created) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	pr.PermissionID = e.ID
	pr.ConnectionID = e.ConnectionID
	pr.DataNeedID = e.DataNeedID
	pr.MeteringPointID = e.MeteringPointID
	pr.CustomerID = e.CustomerID
	pr.Created = at
	pr.Status = StatusCreated
	pr.StatusChangedAt = at
	return nil
}

// Validated records a successful creation-time validation together with the
// calculated data window and granularity.
type Validated struct {
	ID          string
	Start, End  time.Time
	Granularity dataneed.Granularity
	EnergyType  dataneed.EnergyType
}

func (e Validated) PermissionID() string { return e.ID }

func (e Validated) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	if err := m.Transition(pr, StatusValidated, at); err != nil {
		return err
	}
	pr.Start = e.Start
	pr.End = e.End
	pr.Granularity = e.Granularity
	pr.EnergyType = e.EnergyType
	return nil
}

// Malformed pins the request to its terminal MALFORMED status with a
// non-empty list of validation errors.
type Malformed struct {
	ID     string
	Errors []dataneed.AttributeError
}

func (e Malformed) PermissionID() string { return e.ID }

func (e Malformed) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	if err := m.Transition(pr, StatusMalformed, at); err != nil {
		return err
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, attrErr := range e.Errors {
		msgs = append(msgs, attrErr.String())
	}
	pr.Message = strings.Join(msgs, "; ")
	return nil
}

// StatusChanged is a plain lifecycle transition with an optional
// human-readable message.
type StatusChanged struct {
	ID      string
	Status  Status
	Message string
}

func (e StatusChanged) PermissionID() string { return e.ID }

func (e StatusChanged) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	if err := m.Transition(pr, e.Status, at); err != nil {
		return err
	}
	if e.Message != "" {
		pr.Message = e.Message
	}
	return nil
}

// UsagePointTypeDetermined records the usage point classification discovered
// from upstream master data. The status is unchanged.
type UsagePointTypeDetermined struct {
	ID   string
	Type string
}

func (e UsagePointTypeDetermined) PermissionID() string { return e.ID }

func (e UsagePointTypeDetermined) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	pr.UsagePointType = e.Type
	return nil
}

// GranularityUpdated records a negotiated coarser granularity after an empty
// upstream response. The status is unchanged; the next poll cycle retries at
// the new granularity.
type GranularityUpdated struct {
	ID          string
	Granularity dataneed.Granularity
}

func (e GranularityUpdated) PermissionID() string { return e.ID }

func (e GranularityUpdated) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	pr.Granularity = e.Granularity
	return nil
}

// MeterReadingAdvanced moves the last-pulled-reading watermark forward after
// a successful fetch. The watermark never moves backwards.
type MeterReadingAdvanced struct {
	ID        string
	Watermark time.Time
}

func (e MeterReadingAdvanced) PermissionID() string { return e.ID }

func (e MeterReadingAdvanced) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	if pr.LastPulledReading == nil || e.Watermark.After(*pr.LastPulledReading) {
		ts := e.Watermark
		pr.LastPulledReading = &ts
	}
	return nil
}

// PollingResult records per-meter watermarks from one poll cycle. It is an
// internal bookkeeping event and is not projected into a status message.
type PollingResult struct {
	ID           string
	LastReadings map[string]time.Time
}

func (e PollingResult) PermissionID() string { return e.ID }

func (e PollingResult) Apply(m *Machine, pr *PermissionRequest, at time.Time) error {
	if pr.LastReadings == nil {
		pr.LastReadings = make(map[string]time.Time, len(e.LastReadings))
	}
	for meter, ts := range e.LastReadings {
		if prev, ok := pr.LastReadings[meter]; !ok || ts.After(prev) {
			pr.LastReadings[meter] = ts
		}
	}
	return nil
}
