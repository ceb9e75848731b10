package model

// Tier buckets a credibility score for presentation.
type Tier string

// Tiers, from least to most credible.
const (
	TierUntrusted Tier = "untrusted"
	TierNeutral   Tier = "neutral"
	TierTrusted   Tier = "trusted"
)

// TierThresholds splits scores: below Untrusted is untrusted, at or above
// Trusted is trusted, anything in between is neutral.
type TierThresholds struct {
	Untrusted int
	Trusted   int
}

// Classify returns the tier for score.
func (t TierThresholds) Classify(score int) Tier {
	switch {
	case score < t.Untrusted:
		return TierUntrusted
	case score >= t.Trusted:
		return TierTrusted
	default:
		return TierNeutral
	}
}

// Badge is the annotation rendered next to a subject.
type Badge struct {
	Subject  string      `json:"subject"`
	Kind     SubjectKind `json:"kind"`
	Score    int         `json:"score"`
	Tier     Tier        `json:"tier"`
	Fallback bool        `json:"fallback"` // score is the neutral default, not a fetched value
}
