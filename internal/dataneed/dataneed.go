package dataneed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind distinguishes what a data need asks for.
type Kind string

const (
	// ValidatedHistoricalData asks for settled time-series metering data.
	ValidatedHistoricalData Kind = "VALIDATED_HISTORICAL_DATA"
	// AccountingPointData asks for master data about the accounting point.
	AccountingPointData Kind = "ACCOUNTING_POINT_DATA"
)

// EnergyType of the metered commodity.
type EnergyType string

const (
	Electricity EnergyType = "ELECTRICITY"
	Gas         EnergyType = "GAS"
)

// DataNeed is a declarative descriptor of what energy data is wanted.
// Granularities are ordered finest to coarsest and bound what a permission
// request referencing this need may ask for.
type DataNeed struct {
	ID              string        `json:"id"`
	Kind            Kind          `json:"kind"`
	EnergyType      EnergyType    `json:"energy_type"`
	Granularities   []Granularity `json:"granularities"`
	MaxLookbackDays int           `json:"max_lookback_days"`
	// Duration bounds the permission window relative to its start. Zero
	// means open-ended.
	Duration time.Duration `json:"duration,omitempty"`
}

// SupportsGranularity reports whether g is in the need's supported set.
func (d DataNeed) SupportsGranularity(g Granularity) bool {
	for _, s := range d.Granularities {
		if s == g {
			return true
		}
	}
	return false
}

// ErrNotFound indicates an unknown data need id.
var ErrNotFound = errors.New("data need not found")

// Service resolves data need ids to their descriptors.
type Service interface {
	GetByID(ctx context.Context, id string) (DataNeed, error)
}

// InMemory is a Service backed by a map, used in tests and the smoke binary.
type InMemory struct {
	mu    sync.RWMutex
	needs map[string]DataNeed
}

func NewInMemory(needs ...DataNeed) *InMemory {
	m := &InMemory{needs: make(map[string]DataNeed, len(needs))}
	for _, n := range needs {
		m.needs[n.ID] = n
	}
	return m
}

func (s *InMemory) GetByID(ctx context.Context, id string) (DataNeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	need, ok := s.needs[id]
	if !ok {
		return DataNeed{}, ErrNotFound
	}
	return need, nil
}

// Put registers or replaces a need.
func (s *InMemory) Put(need DataNeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needs[need.ID] = need
}
