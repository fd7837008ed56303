package agents

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/qninhdt/storyforge/server/internal/game"
)

// Narrator generates openings, continuations and impact analyses with an LLM
type Narrator struct {
	client        *OpenRouterClient
	historyWindow int
	logger        *zap.Logger
}

var _ game.Narrator = (*Narrator)(nil)

// NewNarrator creates a narrator backed by the configured LLM endpoint
func NewNarrator(cfg Config, logger *zap.Logger) *Narrator {
	cfg.applyDefaults()
	return &Narrator{
		client:        NewOpenRouterClient(cfg, logger),
		historyWindow: cfg.HistoryWindow,
		logger:        logger.Named("narrator"),
	}
}

// Opening writes the first scene of a new session
func (n *Narrator) Opening(ctx context.Context, oc game.OpeningContext) (string, error) {
	if oc.Campaign == nil || oc.Character == nil {
		return "", errors.New("opening needs a campaign and a character")
	}
	userPrompt, err := render(openingTmpl, oc)
	if err != nil {
		return "", fmt.Errorf("failed to render opening prompt: %w", err)
	}

	return n.client.CreateCompletion(ctx, CompletionRequest{
		Operation: "opening",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openingSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.9,
		MaxTokens:   600,
	})
}

// Continue writes the dungeon master's response to a player action
func (n *Narrator) Continue(ctx context.Context, session *game.Session, action game.ActionInput) (string, error) {
	systemPrompt, err := render(dungeonMasterTmpl, newSceneContext(session))
	if err != nil {
		return "", fmt.Errorf("failed to render dungeon master prompt: %w", err)
	}

	history := session.NarrativeHistory
	if len(history) > n.historyWindow {
		history = history[len(history)-n.historyWindow:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, entry := range history {
		role := openai.ChatMessageRoleAssistant
		if entry.Type == game.EntryPlayer {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: describeAction(action)})

	return n.client.CreateCompletion(ctx, CompletionRequest{
		Operation:   "continuation",
		Messages:    messages,
		Temperature: 0.8,
		MaxTokens:   500,
	})
}

// AnalyzeImpact asks the model which entities the narrative introduced and
// how the tension moved
func (n *Narrator) AnalyzeImpact(ctx context.Context, session *game.Session, action game.ActionInput, narrative string) (*game.ImpactAnalysis, error) {
	prompt, err := render(impactAnalysisTmpl, newAnalysisContext(session, action.Text, narrative))
	if err != nil {
		return nil, fmt.Errorf("failed to render analysis prompt: %w", err)
	}

	text, err := n.client.CreateCompletion(ctx, CompletionRequest{
		Operation:   "analysis",
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, err
	}

	analysis, err := parseImpact(text)
	if err != nil {
		n.logger.Warn("Unparseable impact analysis", zap.String("sessionID", session.ID), zap.Error(err))
		return nil, err
	}
	return analysis, nil
}

// describeAction prefixes declared intents so the model can weigh them
func describeAction(action game.ActionInput) string {
	switch action.Type {
	case "", game.ActionCustom:
		return action.Text
	default:
		return fmt.Sprintf("[%s] %s", action.Type, action.Text)
	}
}
