package dataneed

// Granularity is the time-sampling resolution of metering data, named after
// the ISO-8601 duration it represents.
type Granularity string

const (
	PT5M  Granularity = "PT5M"
	PT15M Granularity = "PT15M"
	PT30M Granularity = "PT30M"
	PT1H  Granularity = "PT1H"
	P1D   Granularity = "P1D"
	P1M   Granularity = "P1M"
)

// granularityRank orders granularities from finest to coarsest.
var granularityRank = map[Granularity]int{
	PT5M:  0,
	PT15M: 1,
	PT30M: 2,
	PT1H:  3,
	P1D:   4,
	P1M:   5,
}

// Coarser reports whether g is a coarser resolution than other.
func (g Granularity) Coarser(other Granularity) bool {
	return granularityRank[g] > granularityRank[other]
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	_, ok := granularityRank[g]
	return ok
}

// NextCoarser returns the coarsest-avoiding step up from current within the
// supported list: the finest supported granularity strictly coarser than
// current. The boolean is false when no coarser granularity is supported.
func NextCoarser(supported []Granularity, current Granularity) (Granularity, bool) {
	best := Granularity("")
	for _, g := range supported {
		if !g.Coarser(current) {
			continue
		}
		if best == "" || best.Coarser(g) {
			best = g
		}
	}
	return best, best != ""
}
