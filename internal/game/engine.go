package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionUpdate is a partial write of a session document. Nil fields are left
// alone; AppendHistory is appended after the existing entries. When
// ExpectVersion is set the write only applies if the stored version matches.
type SessionUpdate struct {
	TurnCount     *int
	TensionScore  *int
	Anchors       *Anchors
	Quests        *QuestState
	Character     *Character
	AppendHistory []NarrativeEntry
	UpdatedAt     time.Time
	ExpectVersion *int
}

// SessionStore persists session documents
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	InsertSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	DeleteSession(ctx context.Context, id string) error
}

// CampaignStore serves the static campaign catalog
type CampaignStore interface {
	ListCampaigns(ctx context.Context) ([]CampaignSummary, error)
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
}

// ActionType is the player's declared intent
type ActionType string

const (
	ActionAttack      ActionType = "attack"
	ActionPersuade    ActionType = "persuade"
	ActionInvestigate ActionType = "investigate"
	ActionStealth     ActionType = "stealth"
	ActionCustom      ActionType = "custom"
)

// ActionInput is one free-text player action
type ActionInput struct {
	Text string
	Type ActionType
}

// TurnResult is what the caller gets back from a processed action
type TurnResult struct {
	Narrative    string         `json:"narrative"`
	TurnCount    int            `json:"turnCount"`
	TensionScore int            `json:"tensionScore"`
	Analysis     ImpactAnalysis `json:"analysis"`

	NarrativeFallback bool `json:"-"`
	AnalysisFallback  bool `json:"-"`
}

// EngineConfig tunes the engine
type EngineConfig struct {
	GenerationTimeout time.Duration
	UpdateRetries     int
	MaxActionLength   int
}

// DefaultEngineConfig returns the settings used when none are given
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GenerationTimeout: 20 * time.Second,
		UpdateRetries:     3,
		MaxActionLength:   2000,
	}
}

// Engine advances sessions and reconciles their state
type Engine struct {
	sessions  SessionStore
	campaigns CampaignStore
	narrator  Narrator
	logger    *zap.Logger
	cfg       EngineConfig

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine over the given collaborators
func NewEngine(sessions SessionStore, campaigns CampaignStore, narrator Narrator, logger *zap.Logger, cfg EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if cfg.UpdateRetries < 0 {
		cfg.UpdateRetries = 0
	}
	if cfg.MaxActionLength <= 0 {
		cfg.MaxActionLength = defaults.MaxActionLength
	}
	return &Engine{
		sessions:  sessions,
		campaigns: campaigns,
		narrator:  narrator,
		logger:    logger.Named("engine"),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// ProcessAction runs one turn: generate the continuation, analyze it, fold
// the analysis into the session and persist the result. Only a missing
// session (or a malformed action) fails the turn; generator trouble degrades
// to fallback content.
func (e *Engine) ProcessAction(ctx context.Context, sessionID string, action ActionInput) (*TurnResult, error) {
	if err := e.validateAction(&action); err != nil {
		return nil, err
	}
	log := e.logger.With(zap.String("sessionID", sessionID), zap.String("actionType", string(action.Type)))

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("Session not found for action")
		}
		return nil, err
	}

	narration := e.continueStory(ctx, session, action)
	impact := e.analyzeImpact(ctx, session, action, narration.Text)

	result := &TurnResult{
		Narrative:         narration.Text,
		Analysis:          impact.Analysis,
		NarrativeFallback: narration.Fallback,
		AnalysisFallback:  impact.Fallback,
	}

	_, err = e.commit(ctx, session, func(s *Session) (SessionUpdate, error) {
		nextTurn := s.TurnCount + 1
		tension := ApplyTension(s.TensionScore, impact.Analysis.TensionDelta)
		anchors := MergeAnchors(s.Anchors, impact.Analysis, nextTurn, e.newID)
		now := e.now()

		result.TurnCount = nextTurn
		result.TensionScore = tension

		return SessionUpdate{
			TurnCount:    &nextTurn,
			TensionScore: &tension,
			Anchors:      &anchors,
			AppendHistory: []NarrativeEntry{
				{Turn: nextTurn, Type: EntryPlayer, Content: action.Text, Timestamp: now},
				{Turn: nextTurn, Type: EntryDM, Content: narration.Text, LocationImage: s.CurrentLocation, Timestamp: now},
			},
			UpdatedAt: now,
		}, nil
	})
	if err != nil {
		log.Error("Failed to persist turn", zap.Error(err))
		return nil, err
	}

	turnsProcessed.Inc()
	log.Info("Turn processed",
		zap.Int("turn", result.TurnCount),
		zap.Int("tension", result.TensionScore),
		zap.Bool("narrativeFallback", result.NarrativeFallback),
		zap.Bool("analysisFallback", result.AnalysisFallback),
	)
	return result, nil
}

func (e *Engine) validateAction(action *ActionInput) error {
	if strings.TrimSpace(action.Text) == "" {
		return ErrEmptyAction
	}
	if utf8.RuneCountInString(action.Text) > e.cfg.MaxActionLength {
		return ErrActionTooBig
	}
	switch action.Type {
	case "":
		action.Type = ActionCustom
	case ActionAttack, ActionPersuade, ActionInvestigate, ActionStealth, ActionCustom:
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrValidation, action.Type)
	}
	return nil
}

// commit applies build to the latest session and writes the result, checking
// the version it read. On a concurrent modification it reloads and rebuilds,
// up to UpdateRetries more times. It returns the session the successful
// write was based on.
func (e *Engine) commit(ctx context.Context, session *Session, build func(*Session) (SessionUpdate, error)) (*Session, error) {
	for attempt := 0; ; attempt++ {
		update, err := build(session)
		if err != nil {
			return nil, err
		}
		version := session.Version
		update.ExpectVersion = &version

		err = e.sessions.UpdateSession(ctx, session.ID, update)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("failed to update session %s: %w", session.ID, err)
		}

		updateConflicts.Inc()
		if attempt >= e.cfg.UpdateRetries {
			return nil, err
		}
		e.logger.Info("Session changed underneath update, retrying",
			zap.String("sessionID", session.ID), zap.Int("attempt", attempt+1))

		session, err = e.sessions.GetSession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (e *Engine) continueStory(ctx context.Context, session *Session, action ActionInput) Narration {
	start := time.Now()
	text, err := callBounded(ctx, e.cfg.GenerationTimeout, func(ctx context.Context) (string, error) {
		return e.narrator.Continue(ctx, session, action)
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyNarrative
	}
	observeGeneration("continuation", err, time.Since(start))
	if err != nil {
		e.logger.Warn("Continuation failed, using fallback narrative",
			zap.String("sessionID", session.ID), zap.Error(err))
		return Narration{Text: fallbackContinuation(action.Text), Fallback: true, Cause: err}
	}
	return Narration{Text: text}
}

func (e *Engine) analyzeImpact(ctx context.Context, session *Session, action ActionInput, narrative string) Impact {
	start := time.Now()
	analysis, err := callBounded(ctx, e.cfg.GenerationTimeout, func(ctx context.Context) (*ImpactAnalysis, error) {
		return e.narrator.AnalyzeImpact(ctx, session, action, narrative)
	})
	if err == nil && analysis == nil {
		err = errors.New("generator returned no analysis")
	}
	observeGeneration("analysis", err, time.Since(start))
	if err != nil {
		e.logger.Warn("Impact analysis failed, using neutral analysis",
			zap.String("sessionID", session.ID), zap.Error(err))
		return Impact{Analysis: NeutralImpact(), Fallback: true, Cause: err}
	}
	analysis.normalize()
	return Impact{Analysis: *analysis}
}

func (e *Engine) openStory(ctx context.Context, campaign *Campaign, character *Character) Narration {
	start := time.Now()
	text, err := callBounded(ctx, e.cfg.GenerationTimeout, func(ctx context.Context) (string, error) {
		return e.narrator.Opening(ctx, OpeningContext{Campaign: campaign, Character: character})
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyNarrative
	}
	observeGeneration("opening", err, time.Since(start))
	if err != nil {
		e.logger.Warn("Opening failed, using fallback narrative",
			zap.String("campaignID", campaign.ID), zap.Error(err))
		return Narration{Text: fallbackOpening(character), Fallback: true, Cause: err}
	}
	return Narration{Text: text}
}
