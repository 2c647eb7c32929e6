package investments

import (
	"math"
	"math/rand/v2"

	"github.com/insuresim/underwriter/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// PerceptionParams configures how CFO skill distorts the reported portfolio.
type PerceptionParams struct {
	Noise        float64 // standard deviation of the random error at skill 0, in points
	Bias         float64 // optimistic offset at skill 0, in points
	PerfectSkill float64 // skill at and above which perception is exact
}

// optimism is the direction a weak CFO misreads each characteristic, in
// Characteristics.Values order: risk and duration look lower, the rest higher.
var optimism = [5]float64{-1, -1, 1, 1, 1}

// NoiseScale maps CFO skill to the fraction of the full distortion applied.
// It is 1 at skill 0, falls linearly and reaches 0 at PerfectSkill.
func NoiseScale(skill float64, p PerceptionParams) float64 {
	if p.PerfectSkill <= 0 {
		return 0
	}
	return math.Max(0, (p.PerfectSkill-skill)/p.PerfectSkill)
}

// Perceive derives the CFO's view of the actual characteristics. The random
// draws do not depend on skill, so for one source the error only grows as
// skill falls.
func Perceive(actual domain.Characteristics, skill float64, p PerceptionParams, src rand.Source) domain.Characteristics {
	scale := NoiseScale(skill, p)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	a := actual.Values()
	var perceived [5]float64
	for i := range a {
		distortion := optimism[i]*p.Bias + normal.Rand()*p.Noise
		perceived[i] = a[i] + scale*distortion
	}
	return domain.CharacteristicsFrom(perceived).Clamp()
}

// PerceptionError is the total absolute gap between actual and perceived.
func PerceptionError(actual, perceived domain.Characteristics) float64 {
	return actual.AbsDistance(perceived)
}
