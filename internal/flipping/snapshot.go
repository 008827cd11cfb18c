package flipping

import (
	"charge-flip/internal/density"
	"charge-flip/internal/reciprocal"
)

// Snapshot is the state of an Iterator after a step. Sets are immutable and
// the map is a private copy, so a snapshot stays valid while the iterator
// moves on.
type Snapshot struct {
	Iteration int
	FCalc     *reciprocal.Set
	F000      float64
	Map       *density.Map
	// G holds the structure factors of the modified map the step produced;
	// nil right after a restart.
	G        *reciprocal.Set
	Delta    float64
	Strategy StrategyKind

	R1      float64
	Ratio   float64
	RatioOK bool
}
