package ai

import (
	"context"
)

const (
	FallbackMissingSkill = "Error parsing LLM response"
	FallbackSummary      = "Could not generate profile summary due to parsing error."
)

// MatchResult is the scored fit of one CV against one job description.
type MatchResult struct {
	Match         float64  `json:"JD-Match" bson:"JD-Match"`
	MissingSkills []string `json:"Missing Skills" bson:"Missing Skills"`
	Summary       string   `json:"Profile Summary" bson:"Profile Summary"`
}

// Fallback is returned in place of a result the model did not produce in the
// expected shape.
func Fallback() MatchResult {
	return MatchResult{
		Match:         0,
		MissingSkills: []string{FallbackMissingSkill},
		Summary:       FallbackSummary,
	}
}

// IsFallback reports whether r was substituted for an unparseable model answer.
func (r MatchResult) IsFallback() bool {
	return r.Match == 0 && r.Summary == FallbackSummary &&
		len(r.MissingSkills) == 1 && r.MissingSkills[0] == FallbackMissingSkill
}

type Scorer interface {
	Score(ctx context.Context, cvText, jdText string) (MatchResult, error)
}
