package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"eddie.energy/internal/dataneed"
)

// DataNeeds resolves data need descriptors from the data_needs table.
// Granularities are stored as a comma-joined list ordered finest to coarsest.
type DataNeeds struct {
	db *sql.DB
}

func NewDataNeeds(db *sql.DB) *DataNeeds { return &DataNeeds{db: db} }

var _ dataneed.Service = (*DataNeeds)(nil)

func (s *DataNeeds) GetByID(ctx context.Context, id string) (dataneed.DataNeed, error) {
	var (
		need          dataneed.DataNeed
		kind          string
		energyType    string
		granularities string
		durationDays  int
	)
	err := s.db.QueryRowContext(ctx, `
		select id, kind, energy_type, granularities, max_lookback_days, duration_days
		from data_needs where id=$1
	`, id).Scan(&need.ID, &kind, &energyType, &granularities, &need.MaxLookbackDays, &durationDays)
	if errors.Is(err, sql.ErrNoRows) {
		return dataneed.DataNeed{}, dataneed.ErrNotFound
	}
	if err != nil {
		return dataneed.DataNeed{}, err
	}
	need.Kind = dataneed.Kind(kind)
	need.EnergyType = dataneed.EnergyType(energyType)
	need.Duration = time.Duration(durationDays) * 24 * time.Hour
	if granularities != "" {
		for _, g := range strings.Split(granularities, ",") {
			need.Granularities = append(need.Granularities, dataneed.Granularity(strings.TrimSpace(g)))
		}
	}
	return need, nil
}
