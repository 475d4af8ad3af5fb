package domain

import "time"

// Tier is the ordinal risk classification assigned to one assessed message.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

// String returns the lowercase tier name used in logs and storage.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseTier converts a stored tier name back to a Tier.
// Unknown names map to TierLow.
func ParseTier(s string) Tier {
	switch s {
	case "medium":
		return TierMedium
	case "high":
		return TierHigh
	case "critical":
		return TierCritical
	default:
		return TierLow
	}
}

// RiskAssessment is the output of scoring one inbound message.
// It is computed once and never mutated.
type RiskAssessment struct {
	Tier       Tier      `json:"tier"`
	Score      float64   `json:"score"`
	Factors    []string  `json:"factors,omitempty"`
	AssessedAt time.Time `json:"assessed_at"`
}
