package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/jaidee-care/jaidee-core/internal/domain"
	"google.golang.org/api/option"
)

const counselorSystemInstruction = "You are Jai Dee, a counselor and therapeutic companion for people " +
	"recovering from substance use. Create a safe, open, non-judgmental space so users feel " +
	"comfortable sharing their feelings and experiences. Respond with empathy, offer practical " +
	"emotional support, and recommend professional treatment when it is needed. Ask at most one " +
	"question per reply so the user has room to answer. If the user appears to be at high risk, " +
	"advise them to contact the mental health hotline 1323 or their nearest emergency service " +
	"immediately. Reply in the language the user writes in."

const followUpSystemInstruction = "You are Jai Dee, a supportive companion for people recovering from " +
	"substance use. Write a short check-in message (2-4 sentences) that references topics or " +
	"progress from the recent conversation, shows warm continued care, and asks how the user " +
	"has been doing lately. Write in the language the user used."

// Follow-up messages outside this range read as either truncated or rambling;
// the caller substitutes the canned fallback.
const (
	minFollowUpLen = 30
	maxFollowUpLen = 600
)

// Gemini implements ReplyGenerator against the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed reply generator.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// GenerateReply returns a reply to the latest user turn.
func (g *Gemini) GenerateReply(ctx context.Context, turns []domain.ConversationTurn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("conversation context is empty")
	}
	last := turns[len(turns)-1]
	if last.Role != domain.RoleUser {
		return "", fmt.Errorf("last turn is not from the user")
	}

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(counselorSystemInstruction)},
	}

	session := model.StartChat()
	session.History = toHistory(turns[:len(turns)-1])

	resp, err := session.SendMessage(ctx, genai.Text(last.Text))
	if err != nil {
		return "", fmt.Errorf("gemini SendMessage: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned no text candidates")
	}
	return text, nil
}

// GenerateFollowUp returns a contextual check-in message.
func (g *Gemini) GenerateFollowUp(ctx context.Context, turns []domain.ConversationTurn) (string, error) {
	if len(turns) == 0 {
		return DefaultFollowUp, nil
	}

	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(followUpSystemInstruction)},
	}
	temp := float32(0.6)
	maxTokens := int32(250)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}

	var prompt strings.Builder
	prompt.WriteString("Recent conversation:\n\n")
	for _, t := range turns {
		speaker := "User"
		if t.Role == domain.RoleSystem {
			speaker = "Jai Dee"
		}
		fmt.Fprintf(&prompt, "%s: %s\n", speaker, t.Text)
	}
	prompt.WriteString("\nWrite the check-in message now.")

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		return "", fmt.Errorf("gemini follow-up generation: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if len(text) < minFollowUpLen || len(text) > maxFollowUpLen {
		return "", fmt.Errorf("generated follow-up length %d outside acceptable range", len(text))
	}
	return text, nil
}

// Ping verifies the completion service is reachable with a minimal count
// request.
func (g *Gemini) Ping(ctx context.Context) error {
	model := g.client.GenerativeModel(g.model)
	if _, err := model.CountTokens(ctx, genai.Text("ping")); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func toHistory(turns []domain.ConversationTurn) []*genai.Content {
	// Gemini chat history must open with a user turn; the ring buffer can
	// begin mid-exchange after eviction.
	for len(turns) > 0 && turns[0].Role != domain.RoleUser {
		turns = turns[1:]
	}
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == domain.RoleSystem {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Text)},
		})
	}
	return history
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
