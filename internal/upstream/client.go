package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eddie.energy/internal/dataneed"
)

// Query describes one time-series fetch against the upstream metering API.
type Query struct {
	MeterID     string
	CustomerID  string
	From, To    time.Time
	Granularity dataneed.Granularity
	// Cursor continues a paginated response; empty for the first page.
	Cursor string
}

// Reading is one metered value.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// TimeSeries holds the readings returned for one meter.
type TimeSeries struct {
	MeterID  string    `json:"meter_id"`
	Readings []Reading `json:"readings"`
}

// Payload is an upstream fetch result. NextCursor continues a paginated
// response; UsagePointType carries the accounting-point classification when
// the source includes master data with its readings.
type Payload struct {
	Series         []TimeSeries `json:"series"`
	NextCursor     string       `json:"next_cursor,omitempty"`
	UsagePointType string       `json:"usage_point_type,omitempty"`
}

// Empty reports whether the payload carries no readings at all. Upstream
// sources answer with a structurally empty document when the requested
// granularity is finer than what they can deliver.
func (p *Payload) Empty() bool {
	for _, series := range p.Series {
		if len(series.Readings) > 0 {
			return false
		}
	}
	return true
}

// Latest returns the greatest reading timestamp in the payload.
func (p *Payload) Latest() (time.Time, bool) {
	var latest time.Time
	found := false
	for _, series := range p.Series {
		for _, r := range series.Readings {
			if r.Timestamp.After(latest) {
				latest = r.Timestamp
				found = true
			}
		}
	}
	return latest, found
}

// LatestPerMeter returns the greatest reading timestamp for each meter.
func (p *Payload) LatestPerMeter() map[string]time.Time {
	res := make(map[string]time.Time)
	for _, series := range p.Series {
		for _, r := range series.Readings {
			if prev, ok := res[series.MeterID]; !ok || r.Timestamp.After(prev) {
				res[series.MeterID] = r.Timestamp
			}
		}
	}
	return res
}

// StatusError is a structured upstream failure carrying the HTTP status code,
// the basis for the polling service's failure classification.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status code from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsRetryable reports whether the failure is a token or rate-limit problem
// worth retrying with backoff.
func IsRetryable(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusTooManyRequests
}

// IsForbidden reports whether the source no longer authorizes the permission.
func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

// Client is the upstream region API boundary.
type Client interface {
	FetchTimeSeries(ctx context.Context, q Query) (*Payload, error)
}
