package dataneed

import (
	"fmt"
	"time"
)

// AttributeError is a human-readable validation failure tied to one request
// attribute.
type AttributeError struct {
	Attribute string `json:"attribute"`
	Message   string `json:"message"`
}

func (e AttributeError) String() string {
	return e.Attribute + ": " + e.Message
}

// CreationAttributes are the fields of an inbound creation request that a
// data need constrains.
type CreationAttributes struct {
	EnergyType  EnergyType
	Granularity Granularity
	Start       time.Time
	End         time.Time
}

// ValidateCreation checks a creation request against the referenced need's
// declared constraints. An empty result means the request is valid.
func ValidateCreation(need DataNeed, attrs CreationAttributes, now time.Time) []AttributeError {
	var errs []AttributeError

	if need.Kind != ValidatedHistoricalData && need.Kind != AccountingPointData {
		errs = append(errs, AttributeError{
			Attribute: "dataNeedId",
			Message:   fmt.Sprintf("unsupported data need kind %q", need.Kind),
		})
	}
	if attrs.EnergyType != need.EnergyType {
		errs = append(errs, AttributeError{
			Attribute: "energyType",
			Message:   fmt.Sprintf("energy type %s is not supported, need declares %s", attrs.EnergyType, need.EnergyType),
		})
	}
	if need.Kind == ValidatedHistoricalData && !need.SupportsGranularity(attrs.Granularity) {
		errs = append(errs, AttributeError{
			Attribute: "granularity",
			Message:   fmt.Sprintf("granularity %s is outside the supported set %v", attrs.Granularity, need.Granularities),
		})
	}
	if !attrs.Start.IsZero() && !attrs.End.IsZero() && attrs.End.Before(attrs.Start) {
		errs = append(errs, AttributeError{
			Attribute: "start",
			Message:   "start must not be after end",
		})
	}
	if need.MaxLookbackDays > 0 && !attrs.Start.IsZero() {
		earliest := now.AddDate(0, 0, -need.MaxLookbackDays)
		if attrs.Start.Before(earliest) {
			errs = append(errs, AttributeError{
				Attribute: "start",
				Message:   fmt.Sprintf("start exceeds the maximum lookback of %d days", need.MaxLookbackDays),
			})
		}
	}
	return errs
}
