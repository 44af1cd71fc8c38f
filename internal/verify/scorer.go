package verify

import "math"

// Score maps a verification result to [0, 1]: zero when unverified,
// otherwise 1.0 minus 0.1 per issue, floored at 0.5.
func Score(r Result) float64 {
	if !r.Verified {
		return 0
	}
	penalty := math.Min(0.5, 0.1*float64(len(r.Issues)))
	return math.Max(0, math.Min(1, 0.5+(0.5-penalty)))
}
