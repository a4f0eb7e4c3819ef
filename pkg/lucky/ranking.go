package lucky

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// A QualityRecord is the score for one frame of a FrameSource.
type QualityRecord struct {
	Index int
	Score float64
}

func (q QualityRecord) String() string { return fmt.Sprintf("#%05d:%.4f", q.Index, q.Score) }

// NormalizeAndRank min-max normalizes the scores into [0,1] (if they
// are all the same, they all become 1), and sorts best first. Equal
// scores keep index order.
func NormalizeAndRank(recs []QualityRecord) []QualityRecord {
	out := make([]QualityRecord, len(recs))
	copy(out, recs)
	if len(out) == 0 {
		return out
	}

	scores := make([]float64, len(out))
	for i, r := range out {
		scores[i] = r.Score
	}
	lo, hi := floats.Min(scores), floats.Max(scores)

	for i := range out {
		if hi-lo > 0 {
			out[i].Score = (out[i].Score - lo) / (hi - lo)
		} else {
			out[i].Score = 1.0
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// SelectionSize is how many of n frames make up the best pct%; never
// less than one.
func SelectionSize(n, pct int) int {
	k := int(math.Floor(float64(pct) / 100.0 * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Select returns the best pct% of a ranked list.
func Select(ranked []QualityRecord, pct int) []QualityRecord {
	if len(ranked) == 0 {
		return nil
	}
	return ranked[:SelectionSize(len(ranked), pct)]
}

// Weights maps each selected frame index to its accumulation weight.
func Weights(selected []QualityRecord, weighting string) map[int]float64 {
	w := make(map[int]float64, len(selected))
	for _, r := range selected {
		if weighting == "uniform" {
			w[r.Index] = 1.0
		} else {
			w[r.Index] = r.Score
		}
	}
	return w
}
