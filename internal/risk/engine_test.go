package risk

import (
	"testing"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/domain"
)

var testLexiconYAML = []byte(`
entries:
  - phrase: "end it all"
    weight: 0.9
    category: self-harm
    lang: en
  - phrase: "craving"
    weight: 0.4
    category: relapse
    lang: en
  - phrase: "hopeless"
    weight: 0.3
    category: distress
    lang: en
`)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	lex, err := parseLexicon(testLexiconYAML)
	if err != nil {
		t.Fatalf("Failed to parse test lexicon: %v", err)
	}
	eng, err := NewEngine(lex, Thresholds{Medium: 0.25, High: 0.5, Critical: 0.8})
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	return eng
}

func TestEngine_NeutralTextIsLow(t *testing.T) {
	eng := testEngine(t)

	got, err := eng.Assess("u1", "had a nice walk today", nil)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Tier != domain.TierLow {
		t.Errorf("Expected Low, got %v", got.Tier)
	}
	if got.Score != 0 {
		t.Errorf("Expected score 0, got %v", got.Score)
	}
	if len(got.Factors) != 0 {
		t.Errorf("Expected no factors, got %v", got.Factors)
	}
}

func TestEngine_HighestWeightWins(t *testing.T) {
	eng := testEngine(t)

	// Critical phrase surrounded by lesser matches must not be diluted.
	got, err := eng.Assess("u1", "i feel hopeless and want to end it all", nil)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Tier != domain.TierCritical {
		t.Errorf("Expected Critical, got %v", got.Tier)
	}
	if got.Score != 0.9 {
		t.Errorf("Expected score 0.9, got %v", got.Score)
	}
	if len(got.Factors) != 2 {
		t.Errorf("Expected both matches recorded, got %v", got.Factors)
	}
}

func TestEngine_MatchIsCaseInsensitive(t *testing.T) {
	eng := testEngine(t)

	got, err := eng.Assess("u1", "The CRAVING came back tonight", nil)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Tier != domain.TierMedium {
		t.Errorf("Expected Medium, got %v", got.Tier)
	}
}

func TestEngine_FrequencyBonusEscalates(t *testing.T) {
	eng := testEngine(t)

	recent := []domain.ConversationTurn{
		{Role: domain.RoleUser, Tier: domain.TierMedium},
		{Role: domain.RoleUser, Tier: domain.TierMedium},
	}

	// 0.4 alone is Medium; with two prior elevated turns (+0.3 capped)
	// the score 0.7 crosses into High.
	got, err := eng.Assess("u1", "the craving is back", recent)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Score != 0.7 {
		t.Errorf("Expected score 0.7, got %v", got.Score)
	}
	if got.Tier != domain.TierHigh {
		t.Errorf("Expected High, got %v", got.Tier)
	}
}

func TestEngine_BonusNeverFiresWithoutMatch(t *testing.T) {
	eng := testEngine(t)

	recent := []domain.ConversationTurn{
		{Role: domain.RoleUser, Tier: domain.TierHigh},
		{Role: domain.RoleUser, Tier: domain.TierHigh},
	}

	got, err := eng.Assess("u1", "thanks for listening yesterday", recent)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Tier != domain.TierLow || got.Score != 0 {
		t.Errorf("History alone must not elevate: got tier %v score %v", got.Tier, got.Score)
	}
}

func TestEngine_BonusIgnoresSystemTurns(t *testing.T) {
	eng := testEngine(t)

	recent := []domain.ConversationTurn{
		{Role: domain.RoleSystem, Tier: domain.TierHigh},
		{Role: domain.RoleSystem, Tier: domain.TierHigh},
	}

	got, err := eng.Assess("u1", "feeling hopeless", recent)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Score != 0.3 {
		t.Errorf("System turns must not count toward the bonus: got score %v", got.Score)
	}
}

func TestEngine_TierForIsMonotone(t *testing.T) {
	eng := testEngine(t)

	scores := []float64{0, 0.1, 0.24, 0.25, 0.4, 0.5, 0.79, 0.8, 1}
	prev := domain.TierLow
	for _, s := range scores {
		tier := eng.TierFor(s)
		if tier < prev {
			t.Errorf("Tier decreased at score %v: %v after %v", s, tier, prev)
		}
		prev = tier
	}

	if eng.TierFor(0.24) != domain.TierLow {
		t.Errorf("Score below medium threshold must be Low")
	}
	if eng.TierFor(0.25) != domain.TierMedium {
		t.Errorf("Medium threshold is inclusive")
	}
	if eng.TierFor(0.8) != domain.TierCritical {
		t.Errorf("Critical threshold is inclusive")
	}
}

func TestEngine_DefaultLexiconLoads(t *testing.T) {
	lex, err := DefaultLexicon()
	if err != nil {
		t.Fatalf("Failed to load embedded lexicon: %v", err)
	}
	if lex.Len() == 0 {
		t.Fatal("Embedded lexicon is empty")
	}

	eng, err := NewEngine(lex, Thresholds{Medium: 0.25, High: 0.5, Critical: 0.8})
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	got, err := eng.Assess("u1", "I want to kill myself", nil)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if got.Tier < domain.TierHigh {
		t.Errorf("Expected at least High for self-harm phrase, got %v", got.Tier)
	}
}

func TestThresholds_Validate(t *testing.T) {
	bad := []Thresholds{
		{Medium: 0, High: 0.5, Critical: 0.8},
		{Medium: 0.5, High: 0.25, Critical: 0.8},
		{Medium: 0.25, High: 0.5, Critical: 1.1},
		{Medium: 0.25, High: 0.25, Critical: 0.8},
	}
	for i, th := range bad {
		if err := th.Validate(); err == nil {
			t.Errorf("Case %d: expected validation error for %+v", i, th)
		}
	}
	if err := (Thresholds{Medium: 0.25, High: 0.5, Critical: 0.8}).Validate(); err != nil {
		t.Errorf("Valid thresholds rejected: %v", err)
	}
}

func TestEngine_AssessedAtUsesClock(t *testing.T) {
	eng := testEngine(t)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return fixed }

	got, err := eng.Assess("u1", "hopeless", nil)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if !got.AssessedAt.Equal(fixed) {
		t.Errorf("Expected assessed_at %v, got %v", fixed, got.AssessedAt)
	}
}
