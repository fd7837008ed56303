package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NeutralTensionDelta is the tension change applied when no analysis is available
const NeutralTensionDelta = 2

// NPCProposal is an NPC the analysis says the narrative introduced
type NPCProposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Disposition int    `json:"disposition"`
}

// LocationProposal is a location the analysis says the narrative introduced
type LocationProposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Atmosphere  string `json:"atmosphere"`
}

// PlotThreadProposal is a plot thread the analysis says the narrative opened
type PlotThreadProposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ImpactAnalysis is the structured reading of one turn
type ImpactAnalysis struct {
	TensionDelta       int                  `json:"tension_change"`
	NewNPCs            []NPCProposal        `json:"new_npcs"`
	NewLocations       []LocationProposal   `json:"new_locations"`
	NewPlotThreads     []PlotThreadProposal `json:"new_plot_threads"`
	QuestProgressHints map[string]string    `json:"quest_progress"`
}

// NeutralImpact is the analysis used when the generator cannot provide one
func NeutralImpact() ImpactAnalysis {
	return ImpactAnalysis{
		TensionDelta:       NeutralTensionDelta,
		NewNPCs:            []NPCProposal{},
		NewLocations:       []LocationProposal{},
		NewPlotThreads:     []PlotThreadProposal{},
		QuestProgressHints: map[string]string{},
	}
}

func (a *ImpactAnalysis) normalize() {
	if a.NewNPCs == nil {
		a.NewNPCs = []NPCProposal{}
	}
	if a.NewLocations == nil {
		a.NewLocations = []LocationProposal{}
	}
	if a.NewPlotThreads == nil {
		a.NewPlotThreads = []PlotThreadProposal{}
	}
	if a.QuestProgressHints == nil {
		a.QuestProgressHints = map[string]string{}
	}
}

// OpeningContext is what the generator sees when a session begins
type OpeningContext struct {
	Campaign  *Campaign
	Character *Character
}

// Narrator is the external narrative generation service. Implementations may
// fail or stall; the engine bounds every call and substitutes fallbacks.
type Narrator interface {
	Opening(ctx context.Context, oc OpeningContext) (string, error)
	Continue(ctx context.Context, session *Session, action ActionInput) (string, error)
	AnalyzeImpact(ctx context.Context, session *Session, action ActionInput, narrative string) (*ImpactAnalysis, error)
}

// Narration is the outcome of a prose generation call. Fallback is set when
// Text was produced locally because the generator failed; Cause says why.
type Narration struct {
	Text     string
	Fallback bool
	Cause    error
}

// Impact is the outcome of an analysis call, with the same fallback contract
type Impact struct {
	Analysis ImpactAnalysis
	Fallback bool
	Cause    error
}

var errEmptyNarrative = errors.New("generator returned empty narrative")

// callBounded runs fn with a deadline and gives up when the deadline passes
// even if fn ignores its context.
func callBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("generation call abandoned: %w", ctx.Err())
	}
}

// fallbackContinuation echoes the player's action and keeps the scene moving
func fallbackContinuation(action string) string {
	return fmt.Sprintf(`You attempt to %s. The shadows seem to shift around you as you act, the world responding to your presence in ways you can't quite explain.

A cold draft whispers past, carrying with it the scent of dust and forgotten memories. The ground creaks beneath your feet as you consider your next move.

What do you do?`, strings.ToLower(strings.TrimSpace(action)))
}

// fallbackOpening introduces the character without any generated scene
func fallbackOpening(character *Character) string {
	name := "a weary traveler"
	description := "seeking adventure and purpose"
	if character != nil {
		if character.Name != "" {
			name = character.Name
		}
		if character.Description != "" {
			description = character.Description
		}
	}
	return fmt.Sprintf(`The journey has been long, but at last you've arrived. You are %s, %s.

The air carries a sense of anticipation as you survey your surroundings. Something important awaits here - you can feel it in your bones. The path ahead is uncertain, but that has never stopped you before.

Your instincts tell you that the choices you make from this moment forward will shape not just your fate, but perhaps the fate of many others.

What do you do?`, name, strings.TrimSuffix(description, "."))
}
