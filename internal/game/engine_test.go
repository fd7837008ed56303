package game

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStartSession tests the initial session document
func TestStartSession(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})

	session := startTestSession(t, engine)

	assert.Equal(t, "id-1", session.ID)
	assert.Equal(t, "test-campaign", session.CampaignID)
	assert.Equal(t, "Test Manor", session.CampaignTitle)
	assert.Equal(t, "char_1", session.CharacterID)
	assert.Equal(t, 1, session.TurnCount)
	assert.Equal(t, 0, session.TensionScore)
	assert.Equal(t, 1, session.Version)
	assert.Equal(t, "https://example.test/manor.jpg", session.CurrentLocation)

	require.Len(t, session.NarrativeHistory, 1)
	opening := session.NarrativeHistory[0]
	assert.Equal(t, EntryDM, opening.Type)
	assert.Equal(t, 1, opening.Turn)
	assert.Equal(t, "The manor doors groan open.", opening.Content)
	assert.Equal(t, session.CurrentLocation, opening.LocationImage)

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Character, stored.Character)
	assert.Len(t, stored.Quests.Active, 2)
	assert.Len(t, stored.Anchors.NPCs, 1)
}

// TestStartSessionCopiesCampaign tests that sessions never alias campaign data
func TestStartSessionCopiesCampaign(t *testing.T) {
	engine, _ := newTestEngine(t, &stubNarrator{})
	ctx := context.Background()

	first := startTestSession(t, engine)
	_, err := engine.Equip(ctx, first.ID, "item_5", SlotNeck)
	require.NoError(t, err)
	_, err = engine.CompleteObjective(ctx, first.ID, "quest_1", "obj_1")
	require.NoError(t, err)

	second := startTestSession(t, engine)
	assert.Nil(t, second.Character.Equipment.Neck)
	assert.Len(t, second.Character.Inventory, 3)
	assert.False(t, second.Quests.Active[0].SubObjectives[0].Completed)

	campaign, err := engine.GetCampaign(ctx, "test-campaign")
	require.NoError(t, err)
	assert.Len(t, campaign.Characters[0].Inventory, 3)
}

// TestStartSessionOpeningFallback tests that a failing generator still opens the story
func TestStartSessionOpeningFallback(t *testing.T) {
	narrator := &stubNarrator{
		opening: func(ctx context.Context, oc OpeningContext) (string, error) {
			return "", errors.New("upstream unavailable")
		},
	}
	engine, _ := newTestEngine(t, narrator)

	session := startTestSession(t, engine)

	require.Len(t, session.NarrativeHistory, 1)
	assert.Contains(t, session.NarrativeHistory[0].Content, "Viktor Ashford")
	assert.Contains(t, session.NarrativeHistory[0].Content, "What do you do?")
}

// TestStartSessionNotFound tests unknown campaigns and characters
func TestStartSessionNotFound(t *testing.T) {
	narrator := &stubNarrator{}
	engine, store := newTestEngine(t, narrator)
	ctx := context.Background()

	_, err := engine.StartSession(ctx, "nowhere", "char_1", "")
	assert.ErrorIs(t, err, ErrCampaignNotFound)

	_, err = engine.StartSession(ctx, "test-campaign", "char_9", "")
	assert.ErrorIs(t, err, ErrCharacterNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, store.sessions)
	assert.Zero(t, narrator.calls)
}

// TestProcessActionTurns tests turn counting and history growth over several turns
func TestProcessActionTurns(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	ctx := context.Background()
	session := startTestSession(t, engine)

	actions := []string{"open the door", "light a candle", "call out", "climb the stairs", "listen"}
	for i, text := range actions {
		result, err := engine.ProcessAction(ctx, session.ID, ActionInput{Text: text})
		require.NoError(t, err)
		assert.Equal(t, i+2, result.TurnCount)
		assert.Equal(t, "Dust swirls as you "+text+".", result.Narrative)
		assert.False(t, result.NarrativeFallback)
		assert.False(t, result.AnalysisFallback)
	}

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+len(actions), stored.TurnCount)
	assert.Equal(t, 25, stored.TensionScore)
	require.Len(t, stored.NarrativeHistory, 1+2*len(actions))

	for i, text := range actions {
		player := stored.NarrativeHistory[1+2*i]
		dm := stored.NarrativeHistory[2+2*i]
		assert.Equal(t, EntryPlayer, player.Type)
		assert.Equal(t, text, player.Content)
		assert.Equal(t, EntryDM, dm.Type)
		assert.Equal(t, i+2, player.Turn)
		assert.Equal(t, i+2, dm.Turn)
		assert.Equal(t, stored.CurrentLocation, dm.LocationImage)
	}
}

// TestProcessActionSeesCurrentState tests that the generator gets the loaded session
func TestProcessActionSeesCurrentState(t *testing.T) {
	var seenTurns []int
	var seenNarrative string
	narrator := &stubNarrator{
		continues: func(ctx context.Context, s *Session, a ActionInput) (string, error) {
			seenTurns = append(seenTurns, s.TurnCount)
			return "The candle gutters.", nil
		},
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			seenNarrative = narrative
			analysis := NeutralImpact()
			return &analysis, nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)

	for i := 0; i < 2; i++ {
		_, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "wait", Type: ActionInvestigate})
		require.NoError(t, err)
	}

	assert.Equal(t, []int{1, 2}, seenTurns)
	assert.Equal(t, "The candle gutters.", seenNarrative)
}

// TestProcessActionClampsTension tests tension bounds
func TestProcessActionClampsTension(t *testing.T) {
	delta := 1000
	narrator := &stubNarrator{
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			return &ImpactAnalysis{TensionDelta: delta}, nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)
	ctx := context.Background()

	result, err := engine.ProcessAction(ctx, session.ID, ActionInput{Text: "scream"})
	require.NoError(t, err)
	assert.Equal(t, MaxTension, result.TensionScore)

	delta = -1000
	result, err = engine.ProcessAction(ctx, session.ID, ActionInput{Text: "breathe"})
	require.NoError(t, err)
	assert.Equal(t, MinTension, result.TensionScore)

	// a nil collection from the generator still reaches the caller as empty
	assert.NotNil(t, result.Analysis.NewNPCs)
	assert.NotNil(t, result.Analysis.QuestProgressHints)
}

// TestProcessActionExtremeDeltas tests that deltas near the int limits
// still clamp instead of wrapping around
func TestProcessActionExtremeDeltas(t *testing.T) {
	delta := math.MaxInt
	narrator := &stubNarrator{
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			return &ImpactAnalysis{TensionDelta: delta}, nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)
	ctx := context.Background()

	for _, text := range []string{"scream", "scream louder"} {
		result, err := engine.ProcessAction(ctx, session.ID, ActionInput{Text: text})
		require.NoError(t, err)
		assert.Equal(t, MaxTension, result.TensionScore)
	}

	delta = math.MinInt
	for _, text := range []string{"breathe", "sleep"} {
		result, err := engine.ProcessAction(ctx, session.ID, ActionInput{Text: text})
		require.NoError(t, err)
		assert.Equal(t, MinTension, result.TensionScore)
	}
}

// TestProcessActionMergesAnchors tests that proposals land in the catalog
func TestProcessActionMergesAnchors(t *testing.T) {
	narrator := &stubNarrator{
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			return &ImpactAnalysis{
				TensionDelta:       3,
				NewNPCs:            []NPCProposal{{Name: "Grimshaw the Caretaker", Description: "Again"}},
				NewLocations:       []LocationProposal{{Name: "The Cellar"}},
				QuestProgressHints: map[string]string{"quest_1": "Found a clue"},
			}, nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)
	ctx := context.Background()

	result, err := engine.ProcessAction(ctx, session.ID, ActionInput{Text: "go downstairs"})
	require.NoError(t, err)
	assert.Equal(t, "Found a clue", result.Analysis.QuestProgressHints["quest_1"])

	anchors, err := engine.Anchors(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, anchors.NPCs, 2)
	assert.Equal(t, anchors.NPCs[0].Name, anchors.NPCs[1].Name)
	assert.Equal(t, 2, anchors.NPCs[1].FirstMentioned)
	require.Len(t, anchors.Locations, 2)
	assert.True(t, anchors.Locations[1].Discovered)
	assert.Equal(t, "Neutral", anchors.Locations[1].Atmosphere)

	// hints are reported but never applied
	quests, err := engine.Quests(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, quests.Active[0].Progress)
}

// TestProcessActionGeneratorOutage tests that a failing generator degrades the turn
func TestProcessActionGeneratorOutage(t *testing.T) {
	narrator := &stubNarrator{
		continues: func(ctx context.Context, s *Session, a ActionInput) (string, error) {
			return "", errors.New("503 from upstream")
		},
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			return nil, errors.New("503 from upstream")
		},
	}
	engine, store := newTestEngine(t, narrator)
	session := startTestSession(t, engine)

	result, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "Search The Room"})
	require.NoError(t, err)

	assert.True(t, result.NarrativeFallback)
	assert.True(t, result.AnalysisFallback)
	assert.Contains(t, result.Narrative, "You attempt to search the room.")
	assert.Equal(t, 2, result.TurnCount)
	assert.Equal(t, NeutralTensionDelta, result.TensionScore)
	assert.Empty(t, result.Analysis.NewNPCs)

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, stored.NarrativeHistory, 3)
	assert.Equal(t, result.Narrative, stored.NarrativeHistory[2].Content)
}

// TestProcessActionEmptyNarrative tests that blank generator output counts as a failure
func TestProcessActionEmptyNarrative(t *testing.T) {
	narrator := &stubNarrator{
		continues: func(ctx context.Context, s *Session, a ActionInput) (string, error) {
			return "   \n", nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)

	result, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "wait"})
	require.NoError(t, err)
	assert.True(t, result.NarrativeFallback)
	assert.False(t, result.AnalysisFallback)
	assert.Contains(t, result.Narrative, "You attempt to wait.")
}

// TestProcessActionHangingGenerator tests that a stalled generator cannot hold the turn
func TestProcessActionHangingGenerator(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	narrator := &stubNarrator{
		continues: func(ctx context.Context, s *Session, a ActionInput) (string, error) {
			<-release
			return "too late", nil
		},
		analyze: func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
			<-release
			return nil, nil
		},
	}
	engine, _ := newTestEngine(t, narrator)
	session := startTestSession(t, engine)

	start := time.Now()
	result, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "wait"})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, result.NarrativeFallback)
	assert.True(t, result.AnalysisFallback)
	assert.Equal(t, 2, result.TurnCount)
}

// TestProcessActionSessionNotFound tests that a missing session skips generation
func TestProcessActionSessionNotFound(t *testing.T) {
	narrator := &stubNarrator{}
	engine, _ := newTestEngine(t, narrator)

	_, err := engine.ProcessAction(context.Background(), "missing", ActionInput{Text: "look"})

	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, narrator.calls)
}

// TestProcessActionValidation tests rejected actions
func TestProcessActionValidation(t *testing.T) {
	narrator := &stubNarrator{}
	engine, store := newTestEngine(t, narrator)
	session := startTestSession(t, engine)
	callsBefore := narrator.calls

	tests := []struct {
		name   string
		action ActionInput
		want   error
	}{
		{"empty", ActionInput{Text: ""}, ErrEmptyAction},
		{"whitespace", ActionInput{Text: " \t "}, ErrEmptyAction},
		{"too long", ActionInput{Text: strings.Repeat("a", 2001)}, ErrActionTooBig},
		{"unknown type", ActionInput{Text: "dance", Type: "dance"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.ProcessAction(context.Background(), session.ID, tt.action)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.Equal(t, callsBefore, narrator.calls)
	assert.Zero(t, store.updates)
}

// TestProcessActionRetriesConflict tests that a concurrent write is rebased on
func TestProcessActionRetriesConflict(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)

	interfered := false
	store.beforeUpdate = func(id string) {
		if interfered {
			return
		}
		interfered = true
		store.mu.Lock()
		defer store.mu.Unlock()
		other, err := store.load(id)
		require.NoError(t, err)
		other.TensionScore = 50
		other.Version++
		require.NoError(t, store.save(other))
	}

	result, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "run"})
	require.NoError(t, err)

	assert.Equal(t, 55, result.TensionScore)
	assert.Equal(t, 2, store.updates)

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 55, stored.TensionScore)
	assert.Len(t, stored.NarrativeHistory, 3)
}

// TestProcessActionConflictExhausted tests that endless interference surfaces ErrConflict
func TestProcessActionConflictExhausted(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)

	store.beforeUpdate = func(id string) {
		store.mu.Lock()
		defer store.mu.Unlock()
		other, _ := store.load(id)
		other.Version++
		_ = store.save(other)
	}

	_, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "run"})

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, store.updates)
}

// TestProcessActionConcurrent tests that parallel turns are all kept
func TestProcessActionConcurrent(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	engine.cfg.UpdateRetries = 50
	session := startTestSession(t, engine)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ProcessAction(context.Background(), session.ID, ActionInput{Text: "push"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+workers, stored.TurnCount)
	require.Len(t, stored.NarrativeHistory, 1+2*workers)
	for i := 1; i < len(stored.NarrativeHistory); i += 2 {
		assert.Equal(t, stored.NarrativeHistory[i].Turn, stored.NarrativeHistory[i+1].Turn)
		assert.Equal(t, (i+1)/2+1, stored.NarrativeHistory[i].Turn)
	}
}

// TestEngineCompleteObjective tests objective completion through the store
func TestEngineCompleteObjective(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)
	ctx := context.Background()

	quests, err := engine.CompleteObjective(ctx, session.ID, "quest_1", "obj_3")
	require.NoError(t, err)
	assert.Equal(t, 25, quests.Active[0].Progress)

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quests.Active[0].SubObjectives[2].Completed)
	assert.Equal(t, 25, stored.Quests.Active[0].Progress)
	assert.Equal(t, 1, store.updates)

	// unknown ids return the unchanged state without a write
	quests, err = engine.CompleteObjective(ctx, session.ID, "quest_1", "obj_99")
	require.NoError(t, err)
	assert.Equal(t, 25, quests.Active[0].Progress)
	assert.Equal(t, 1, store.updates)

	_, err = engine.CompleteObjective(ctx, "missing", "quest_1", "obj_1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// TestEngineCompleteObjectiveRepairsProgress tests that a stale stored
// progress is rewritten even when the objective id is unknown
func TestEngineCompleteObjectiveRepairsProgress(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)
	ctx := context.Background()

	stale := session.Quests
	stale.Active[0].Progress = 80
	require.NoError(t, store.UpdateSession(ctx, session.ID, SessionUpdate{Quests: &stale, UpdatedAt: session.UpdatedAt}))
	before := store.updates

	quests, err := engine.CompleteObjective(ctx, session.ID, "quest_1", "obj_99")
	require.NoError(t, err)
	assert.Zero(t, quests.Active[0].Progress)
	assert.Equal(t, before+1, store.updates)

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Quests.Active[0].Progress)
}

// TestEngineEquipment tests equip and unequip through the store
func TestEngineEquipment(t *testing.T) {
	engine, store := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)
	ctx := context.Background()

	character, err := engine.Equip(ctx, session.ID, "item_6", SlotOffHand)
	require.NoError(t, err)
	assert.Equal(t, "item_6", character.Equipment.OffHand.ID)

	character, err = engine.Unequip(ctx, session.ID, SlotOffHand)
	require.NoError(t, err)
	assert.Nil(t, character.Equipment.OffHand)

	stored, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, *character, stored.Character)
	last := stored.Character.Inventory[len(stored.Character.Inventory)-1]
	assert.Equal(t, "item_6", last.ID)
	assert.Equal(t, 1, last.Quantity)

	updates := store.updates
	_, err = engine.Equip(ctx, session.ID, "item_404", SlotHead)
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = engine.Unequip(ctx, session.ID, SlotFeet)
	assert.ErrorIs(t, err, ErrSlotEmpty)
	_, err = engine.Unequip(ctx, session.ID, Slot("tail"))
	assert.ErrorIs(t, err, ErrInvalidSlot)
	assert.Equal(t, updates, store.updates)
}

// TestEndSession tests session deletion
func TestEndSession(t *testing.T) {
	engine, _ := newTestEngine(t, &stubNarrator{})
	session := startTestSession(t, engine)
	ctx := context.Background()

	require.NoError(t, engine.EndSession(ctx, session.ID))

	_, err := engine.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, engine.EndSession(ctx, session.ID), ErrNotFound)
}

// TestCampaignCharacters tests the catalog lookups
func TestCampaignCharacters(t *testing.T) {
	engine, _ := newTestEngine(t, &stubNarrator{})
	ctx := context.Background()

	summaries, err := engine.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Test Manor", summaries[0].Title)

	characters, err := engine.CampaignCharacters(ctx, "test-campaign")
	require.NoError(t, err)
	require.Len(t, characters, 1)
	assert.Equal(t, "Viktor Ashford", characters[0].Name)

	_, err = engine.CampaignCharacters(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

// TestCallBoundedHonorsParentContext tests that a cancelled caller is not kept waiting
func TestCallBoundedHonorsParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := callBounded(ctx, time.Minute, func(ctx context.Context) (string, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
