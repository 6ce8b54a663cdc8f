package screening

import (
	"cmp"
	"slices"
)

// Rank orders candidates by match descending, then by fewer missing skills,
// keeping submission order for full ties, and assigns 1-based positions.
func Rank(candidates []Candidate) {
	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(b.Match, a.Match); c != 0 {
			return c
		}
		return cmp.Compare(len(a.MissingSkills), len(b.MissingSkills))
	})

	for i := range candidates {
		candidates[i].Position = i + 1
	}
}
