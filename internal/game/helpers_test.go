package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// createTestCampaign creates a small campaign for unit tests
func createTestCampaign() *Campaign {
	ac := 16
	c := &Campaign{
		ID:              "test-campaign",
		Title:           "Test Manor",
		Tagline:         "A test campaign",
		Type:            "Fated",
		Genres:          []string{"Horror"},
		Difficulty:      "Intermediate",
		EstimatedLength: "Short",
		BackgroundImage: "https://example.test/manor.jpg",
		WorldTruths: []WorldTruth{
			{ID: "truth_1", Statement: "The manor is alive.", Category: "Cosmic Rule", Visibility: "Hidden"},
			{ID: "truth_2", Statement: "It rains a lot.", Category: "Geography", Visibility: "Known"},
		},
		Characters: []Character{
			{
				ID:          "char_1",
				Name:        "Viktor Ashford",
				Class:       "Fighter",
				Level:       3,
				Description: "A veteran ghost hunter.",
				Stats:       Stats{Strength: 16, Dexterity: 12, Constitution: 14, Intelligence: 10, Wisdom: 13, Charisma: 11},
				HP:          HP{Current: 28, Max: 28},
				Equipment: Equipment{
					MainHand: &Item{ID: "item_1", Name: "Silver Longsword", Type: "Weapon", Rarity: "Uncommon", Damage: "1d8+3 slashing"},
					Body:     &Item{ID: "item_3", Name: "Chainmail", Type: "Armor", Rarity: "Common", AC: &ac},
				},
				Inventory: []Item{
					{ID: "item_5", Name: "Health Potion", Type: "Consumable", Rarity: "Common", Quantity: 2},
					{ID: "item_6", Name: "Holy Water", Type: "Consumable", Rarity: "Common", Quantity: 3},
					{ID: "item_7", Name: "Rope (50ft)", Type: "Tool", Rarity: "Common", Quantity: 1},
				},
			},
		},
		InitialQuests: QuestState{
			Active: []Quest{
				{
					ID: "quest_1", Title: "The Haunted Halls", Description: "Explore the hall.",
					Type: QuestMain, Status: QuestActive,
					SubObjectives: []QuestObjective{
						{ID: "obj_1", Title: "Enter the manor"},
						{ID: "obj_2", Title: "Find clues"},
						{ID: "obj_3", Title: "Survive until dawn"},
						{ID: "obj_4", Title: "Leave"},
					},
				},
				{ID: "quest_2", Title: "Rumors", Description: "Nothing to do yet.", Type: QuestSide, Status: QuestActive},
			},
		},
		InitialAnchors: Anchors{
			NPCs:      []NPC{{ID: "npc_1", Name: "Grimshaw the Caretaker", Description: "Old groundskeeper.", Disposition: 30}},
			Locations: []Location{{ID: "loc_1", Name: "The Grand Foyer", Description: "Cobwebs.", Atmosphere: "Eerie", Discovered: true}},
		},
	}
	c.Normalize()
	return c
}

// memStore is an in-memory SessionStore and CampaignStore. Documents are
// kept as JSON so callers never share memory with the store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string][]byte
	campaigns map[string]*Campaign

	// beforeUpdate runs inside UpdateSession before the version check
	beforeUpdate func(id string)
	updates      int
}

func newMemStore(campaigns ...*Campaign) *memStore {
	s := &memStore{
		sessions:  make(map[string][]byte),
		campaigns: make(map[string]*Campaign),
	}
	for _, c := range campaigns {
		s.campaigns[c.ID] = c
	}
	return s
}

func (s *memStore) ListCampaigns(ctx context.Context) ([]CampaignSummary, error) {
	var out []CampaignSummary
	for _, c := range s.campaigns {
		out = append(out, c.Summary())
	}
	return out, nil
}

func (s *memStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	copied, err := clone(*c)
	return &copied, err
}

func (s *memStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *memStore) load(id string) (*Session, error) {
	data, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, session.Validate()
}

func (s *memStore) save(session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.sessions[session.ID] = data
	return nil
}

func (s *memStore) InsertSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	return s.save(session)
}

func (s *memStore) UpdateSession(ctx context.Context, id string, u SessionUpdate) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++

	session, err := s.load(id)
	if err != nil {
		return err
	}
	if u.ExpectVersion != nil && *u.ExpectVersion != session.Version {
		return ErrConflict
	}
	if u.TurnCount != nil {
		session.TurnCount = *u.TurnCount
	}
	if u.TensionScore != nil {
		session.TensionScore = *u.TensionScore
	}
	if u.Anchors != nil {
		session.Anchors = *u.Anchors
	}
	if u.Quests != nil {
		session.Quests = *u.Quests
	}
	if u.Character != nil {
		session.Character = *u.Character
	}
	session.NarrativeHistory = append(session.NarrativeHistory, u.AppendHistory...)
	session.UpdatedAt = u.UpdatedAt
	session.Version++
	return s.save(session)
}

func (s *memStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// stubNarrator returns canned output; nil funcs fall back to fixed text
type stubNarrator struct {
	mu        sync.Mutex
	opening   func(ctx context.Context, oc OpeningContext) (string, error)
	continues func(ctx context.Context, s *Session, a ActionInput) (string, error)
	analyze   func(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error)
	calls     int
}

func (n *stubNarrator) count() {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *stubNarrator) Opening(ctx context.Context, oc OpeningContext) (string, error) {
	n.count()
	if n.opening != nil {
		return n.opening(ctx, oc)
	}
	return "The manor doors groan open.", nil
}

func (n *stubNarrator) Continue(ctx context.Context, s *Session, a ActionInput) (string, error) {
	n.count()
	if n.continues != nil {
		return n.continues(ctx, s, a)
	}
	return "Dust swirls as you " + a.Text + ".", nil
}

func (n *stubNarrator) AnalyzeImpact(ctx context.Context, s *Session, a ActionInput, narrative string) (*ImpactAnalysis, error) {
	n.count()
	if n.analyze != nil {
		return n.analyze(ctx, s, a, narrative)
	}
	analysis := NeutralImpact()
	analysis.TensionDelta = 5
	return &analysis, nil
}

// newTestEngine creates an engine over an in-memory store with one campaign
func newTestEngine(t *testing.T, narrator Narrator) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore(createTestCampaign())
	engine := NewEngine(store, store, narrator, zap.NewNop(), EngineConfig{
		GenerationTimeout: 200 * time.Millisecond,
		UpdateRetries:     3,
	})
	var ids atomic.Int64
	engine.newID = func() string {
		return fmt.Sprintf("id-%d", ids.Add(1))
	}
	return engine, store
}

// startTestSession starts a session for the test campaign's only character
func startTestSession(t *testing.T, engine *Engine) *Session {
	t.Helper()
	session, err := engine.StartSession(context.Background(), "test-campaign", "char_1", "")
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	return session
}
