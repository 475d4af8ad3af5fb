// Package llm provides the reply-generation collaborator contract and its
// Gemini implementation.
package llm

import (
	"context"

	"github.com/jaidee-care/jaidee-core/internal/domain"
)

// ReplyGenerator produces supportive replies and follow-up check-in
// messages from conversation context. Implementations are opaque beyond
// this contract; failures are recoverable and callers fall back to canned
// text.
type ReplyGenerator interface {
	// GenerateReply returns a reply to the latest user turn given the
	// session context.
	GenerateReply(ctx context.Context, turns []domain.ConversationTurn) (string, error)

	// GenerateFollowUp returns a contextual check-in message referencing
	// the user's recent conversation.
	GenerateFollowUp(ctx context.Context, turns []domain.ConversationTurn) (string, error)

	// Ping verifies the completion service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Canned replies used when generation fails or must not be waited on. An
// at-risk user is never blocked on a downstream LLM failure.
const (
	// FallbackReply is the degraded generic reply for infrastructure
	// failures. It never exposes internal error detail.
	FallbackReply = "I'm here with you. I couldn't put together a full reply just now — " +
		"could you try sending that again in a moment?"

	// CrisisReply is always available on Critical-tier paths.
	CrisisReply = "I hear how much pain you're in right now, and I'm glad you told me. " +
		"You don't have to face this alone. Please reach out to the mental health " +
		"hotline 1323 or your nearest emergency service right away — they can help immediately. " +
		"I'm staying right here with you."

	// DefaultFollowUp is the check-in for users with no usable history.
	DefaultFollowUp = "Hi, it's Jai Dee checking in on how your recovery is going. " +
		"How have things been for you lately?"

	// FallbackFollowUp is used when contextual generation fails or
	// produces text outside the acceptable length range.
	FallbackFollowUp = "Hi, it's Jai Dee checking in. How have you been feeling " +
		"these past few days? I'm always here to listen and cheer you on."
)
