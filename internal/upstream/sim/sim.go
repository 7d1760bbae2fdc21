package sim

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"eddie.energy/internal/dataneed"
	"eddie.energy/internal/upstream"
)

// Simulator is an in-process upstream API used by the smoke binary and
// integration-style tests. It answers fetches with synthetic readings, or
// with a scripted failure when one is armed.
type Simulator struct {
	mu sync.Mutex
	// failCode, when non-zero, makes the next Calls fetches fail with the
	// given HTTP status.
	failCode  int
	failCalls int
	// minGranularity, when set, makes fetches at finer granularities
	// return structurally empty payloads, mimicking sources that need
	// granularity negotiation.
	minGranularity dataneed.Granularity
	// pageSize, when non-zero, splits responses into cursor-linked pages.
	pageSize int
	// usagePointType, when set, is attached to successful payloads the way
	// sources that bundle master data with readings do.
	usagePointType string
	rnd            *rand.Rand
	calls          []upstream.Query
}

func New() *Simulator {
	return &Simulator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

var _ upstream.Client = (*Simulator)(nil)

// FailNext arms the simulator to answer the next n fetches with the given
// HTTP status code.
func (s *Simulator) FailNext(code, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCode = code
	s.failCalls = n
}

// RequireGranularity makes fetches below the given granularity come back
// empty.
func (s *Simulator) RequireGranularity(g dataneed.Granularity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minGranularity = g
}

// Paginate makes fetches answer at most n readings per page, linked by a
// cursor.
func (s *Simulator) Paginate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// ProvideUsagePointType attaches the given accounting-point classification to
// successful payloads.
func (s *Simulator) ProvideUsagePointType(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usagePointType = t
}

// Calls returns the queries seen so far.
func (s *Simulator) Calls() []upstream.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]upstream.Query(nil), s.calls...)
}

func (s *Simulator) FetchTimeSeries(ctx context.Context, q upstream.Query) (*upstream.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, q)

	if s.failCalls > 0 {
		s.failCalls--
		return nil, &upstream.StatusError{Code: s.failCode, Body: "simulated failure"}
	}
	if s.minGranularity != "" && s.minGranularity.Coarser(q.Granularity) {
		return &upstream.Payload{}, nil
	}

	step := stepFor(q.Granularity)
	series := upstream.TimeSeries{MeterID: q.MeterID}
	for ts := q.From; ts.Before(q.To); ts = ts.Add(step) {
		series.Readings = append(series.Readings, upstream.Reading{
			Timestamp: ts.Add(step),
			Value:     0.1 + s.rnd.Float64()*2.5,
			Unit:      "kWh",
		})
	}

	nextCursor := ""
	if s.pageSize > 0 && len(series.Readings) > s.pageSize {
		offset := 0
		if q.Cursor != "" {
			offset, _ = strconv.Atoi(q.Cursor)
		}
		end := offset + s.pageSize
		if end < len(series.Readings) {
			nextCursor = strconv.Itoa(end)
		} else {
			end = len(series.Readings)
		}
		series.Readings = series.Readings[offset:end]
	}

	return &upstream.Payload{
		Series:         []upstream.TimeSeries{series},
		NextCursor:     nextCursor,
		UsagePointType: s.usagePointType,
	}, nil
}

func stepFor(g dataneed.Granularity) time.Duration {
	switch g {
	case dataneed.PT5M:
		return 5 * time.Minute
	case dataneed.PT15M:
		return 15 * time.Minute
	case dataneed.PT30M:
		return 30 * time.Minute
	case dataneed.PT1H:
		return time.Hour
	case dataneed.P1D:
		return 24 * time.Hour
	case dataneed.P1M:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}
