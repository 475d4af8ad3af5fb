// Package risk scores inbound messages against a weighted multilingual
// lexicon and maps scores to ordinal tiers.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
)

const (
	// historyWindow is how many recent turns the escalation-pattern stage
	// inspects.
	historyWindow = 10
	// bonusPerHit is added per recent elevated user turn.
	bonusPerHit = 0.15
	// bonusCap bounds the frequency bonus so history alone cannot push an
	// otherwise neutral message to Critical.
	bonusCap = 0.3
)

// Thresholds are the tier-mapping cut points. A score below Medium is Low,
// below High is Medium, below Critical is High, else Critical.
type Thresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// Validate checks threshold ordering.
func (t Thresholds) Validate() error {
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return fmt.Errorf("thresholds must satisfy 0 < medium < high < critical <= 1")
	}
	return nil
}

// Engine assesses message risk. It is deterministic and side-effect free;
// callers decide what to do with the tier. All state is fixed at
// construction.
type Engine struct {
	lexicon    *Lexicon
	thresholds Thresholds
	now        func() time.Time
}

// NewEngine builds an engine from an explicit lexicon and thresholds.
func NewEngine(lexicon *Lexicon, thresholds Thresholds) (*Engine, error) {
	if lexicon == nil || lexicon.Len() == 0 {
		return nil, fmt.Errorf("lexicon is required")
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		lexicon:    lexicon,
		thresholds: thresholds,
		now:        time.Now,
	}, nil
}

// Assess scores one inbound message given the user's recent turns.
//
// Stage 1 scans the lexicon; the highest matched weight wins outright, so a
// single critical phrase is never diluted by surrounding neutral text.
// Stage 2 counts recent elevated user turns in the rolling window; repeated
// medium-severity mentions weigh more than an isolated one. Stage 3 clips
// the combined score to [0,1]; stage 4 maps it to a tier.
//
// The lexicon engine itself cannot fail; the error return is part of the
// assessor contract so callers handle model-backed implementations
// uniformly.
func (e *Engine) Assess(userID, text string, recent []domain.ConversationTurn) (domain.RiskAssessment, error) {
	lowered := strings.ToLower(text)

	var maxWeight float64
	var factors []string
	for _, entry := range e.lexicon.entries {
		if strings.Contains(lowered, entry.lowered) {
			factors = append(factors, entry.Category+":"+entry.Phrase)
			if entry.Weight > maxWeight {
				maxWeight = entry.Weight
			}
		}
	}

	bonus := e.frequencyBonus(recent)
	if bonus > 0 && maxWeight > 0 {
		factors = append(factors, fmt.Sprintf("repeated-elevated-mentions:+%.2f", bonus))
	}

	score := maxWeight
	if maxWeight > 0 {
		score = clip(maxWeight + bonus)
	}

	return domain.RiskAssessment{
		Tier:       e.TierFor(score),
		Score:      score,
		Factors:    factors,
		AssessedAt: e.now(),
	}, nil
}

// frequencyBonus counts user turns in the rolling window that were already
// assessed at Medium or above.
func (e *Engine) frequencyBonus(recent []domain.ConversationTurn) float64 {
	turns := recent
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	var hits int
	for _, t := range turns {
		if t.Role == domain.RoleUser && t.Tier >= domain.TierMedium {
			hits++
		}
	}
	bonus := float64(hits) * bonusPerHit
	if bonus > bonusCap {
		bonus = bonusCap
	}
	return bonus
}

// TierFor maps a score to its tier. The mapping is monotone in the score for
// fixed thresholds.
func (e *Engine) TierFor(score float64) domain.Tier {
	switch {
	case score < e.thresholds.Medium:
		return domain.TierLow
	case score < e.thresholds.High:
		return domain.TierMedium
	case score < e.thresholds.Critical:
		return domain.TierHigh
	default:
		return domain.TierCritical
	}
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
