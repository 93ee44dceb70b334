package dnd

import (
	"math"

	"taskboard/internal/domain"
)

// DefaultOffset is the distance below an indicator's top at which the
// pointer stops counting as "above" it.
const DefaultOffset = 50

// Nearest picks, in one pass, the indicator whose trigger line (top+offset)
// is the closest one below y. When y is below every trigger line the last
// indicator, the column's terminal one, is returned.
func Nearest(y float64, indicators []domain.Indicator, offset float64) domain.Indicator {
	best := domain.Indicator{BeforeID: domain.EndOfColumn}
	if n := len(indicators); n > 0 {
		best = indicators[n-1]
	}
	bestScore := math.Inf(-1)
	for _, ind := range indicators {
		score := y - (ind.Top + offset)
		if score < 0 && score > bestScore {
			best, bestScore = ind, score
		}
	}
	return best
}
