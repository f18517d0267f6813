package stats

import (
	"math"

	"github.com/vvka-141/pgtally/pkg/pgtally"
)

// Accumulator holds running count, sum and extrema.
// The zero value is ready to use.
//
// Thread-Safety: NOT safe for concurrent use.
type Accumulator struct {
	count uint64
	sum   float64
	comp  float64 // Neumaier compensation for sum
	min   float64 // valid only when count > 0
	max   float64 // valid only when count > 0
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Update folds values into the running state. An empty slice is a no-op.
func (a *Accumulator) Update(values []float64) {
	if len(values) == 0 {
		return
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		a.add(v)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	a.foldExtrema(uint64(len(values)), lo, hi)
}

// Merge folds the state of other into a. other is left unchanged.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil || other.count == 0 {
		return
	}
	a.add(other.sum)
	a.add(other.comp)
	a.foldExtrema(other.count, other.min, other.max)
}

// Count returns the number of values folded in so far.
func (a *Accumulator) Count() uint64 { return a.count }

// Sum returns the compensated running sum.
func (a *Accumulator) Sum() float64 { return a.sum + a.comp }

// Extrema returns min and max, with ok false when no value has been seen.
func (a *Accumulator) Extrema() (lo, hi float64, ok bool) {
	if a.count == 0 {
		return 0, 0, false
	}
	return a.min, a.max, true
}

// Snapshot returns the current statistics. Min and Max are 0 when empty.
func (a *Accumulator) Snapshot() pgtally.Snapshot {
	if a.count == 0 {
		return pgtally.Snapshot{}
	}
	return pgtally.Snapshot{
		Count: a.count,
		Mean:  a.Sum() / float64(a.count),
		Min:   a.min,
		Max:   a.max,
	}
}

func (a *Accumulator) add(v float64) {
	t := a.sum + v
	if math.Abs(a.sum) >= math.Abs(v) {
		a.comp += (a.sum - t) + v
	} else {
		a.comp += (v - t) + a.sum
	}
	a.sum = t
}

func (a *Accumulator) foldExtrema(n uint64, lo, hi float64) {
	if a.count == 0 {
		a.min, a.max = lo, hi
	} else {
		a.min = math.Min(a.min, lo)
		a.max = math.Max(a.max, hi)
	}
	a.count += n
}
