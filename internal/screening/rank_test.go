package screening

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spigell/cv-matcher/internal/ai"
)

func candidate(name string, match float64, missing int) Candidate {
	skills := make([]string, missing)
	for i := range skills {
		skills[i] = "skill"
	}
	return Candidate{Filename: name, MatchResult: ai.MatchResult{Match: match, MissingSkills: skills}}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name   string
		input  []Candidate
		expect []string
	}{
		{
			name:   "score then missing skills",
			input:  []Candidate{candidate("a", 40, 2), candidate("b", 90, 1), candidate("c", 90, 3)},
			expect: []string{"b", "c", "a"},
		},
		{
			name:   "full ties keep submission order",
			input:  []Candidate{candidate("a", 70, 1), candidate("b", 70, 1), candidate("c", 70, 0)},
			expect: []string{"c", "a", "b"},
		},
		{
			name:   "fractional scores",
			input:  []Candidate{candidate("a", 72.4, 0), candidate("b", 72.5, 5)},
			expect: []string{"b", "a"},
		},
		{
			name:   "empty",
			input:  []Candidate{},
			expect: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Rank(tt.input)

			var got []string
			for i, c := range tt.input {
				got = append(got, c.Filename)
				require.Equal(t, i+1, c.Position)
			}
			require.Equal(t, tt.expect, got)
		})
	}
}
