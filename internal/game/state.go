package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tension bounds
const (
	MinTension = 0
	MaxTension = 100
)

// EntryType tells who authored a narrative entry
type EntryType string

const (
	EntryPlayer EntryType = "player"
	EntryDM     EntryType = "dm"
)

// NarrativeEntry is one line of the append-only story log
type NarrativeEntry struct {
	Turn          int       `json:"turn"`
	Type          EntryType `json:"type"`
	Content       string    `json:"content"`
	LocationImage string    `json:"locationImage,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stats are the six ability scores of a character
type Stats struct {
	Strength     int `json:"strength" yaml:"strength"`
	Dexterity    int `json:"dexterity" yaml:"dexterity"`
	Constitution int `json:"constitution" yaml:"constitution"`
	Intelligence int `json:"intelligence" yaml:"intelligence"`
	Wisdom       int `json:"wisdom" yaml:"wisdom"`
	Charisma     int `json:"charisma" yaml:"charisma"`
}

// HP tracks hit points
type HP struct {
	Current int `json:"current" yaml:"current"`
	Max     int `json:"max" yaml:"max"`
}

// Item is a piece of gear, either stacked in the inventory or held in a slot
type Item struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Rarity   string `json:"rarity" yaml:"rarity"`
	Damage   string `json:"damage,omitempty" yaml:"damage,omitempty"`
	AC       *int   `json:"ac,omitempty" yaml:"ac,omitempty"`
	Effect   string `json:"effect,omitempty" yaml:"effect,omitempty"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

// Character is the player character. A session owns its own copy.
type Character struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Class       string    `json:"class" yaml:"class"`
	Level       int       `json:"level" yaml:"level"`
	Description string    `json:"description" yaml:"description"`
	PortraitURL string    `json:"portraitUrl" yaml:"portraitUrl"`
	Stats       Stats     `json:"stats" yaml:"stats"`
	HP          HP        `json:"hp" yaml:"hp"`
	Equipment   Equipment `json:"equipment" yaml:"equipment"`
	Inventory   []Item    `json:"inventory" yaml:"inventory"`
}

// WorldTruth is a fact about the setting, usually hidden from the player
type WorldTruth struct {
	ID         string `json:"id" yaml:"id"`
	Statement  string `json:"statement" yaml:"statement"`
	Category   string `json:"category" yaml:"category"`
	Visibility string `json:"visibility" yaml:"visibility"` // Known, Hidden, Secret
}

// Campaign is a static adventure definition sessions are seeded from
type Campaign struct {
	ID              string       `json:"id" yaml:"id"`
	Title           string       `json:"title" yaml:"title"`
	Tagline         string       `json:"tagline" yaml:"tagline"`
	Type            string       `json:"type" yaml:"type"` // Epic, Fated, Final Season
	Genres          []string     `json:"genres" yaml:"genres"`
	Difficulty      string       `json:"difficulty" yaml:"difficulty"`
	EstimatedLength string       `json:"estimatedLength" yaml:"estimatedLength"`
	BackgroundImage string       `json:"backgroundImage" yaml:"backgroundImage"`
	EpicGoal        string       `json:"epicGoal,omitempty" yaml:"epicGoal,omitempty"`
	WorldTruths     []WorldTruth `json:"worldTruths" yaml:"worldTruths"`
	Characters      []Character  `json:"characters" yaml:"characters"`
	InitialQuests   QuestState   `json:"initialQuests" yaml:"initialQuests"`
	InitialAnchors  Anchors      `json:"initialAnchors" yaml:"initialAnchors"`
}

// CampaignSummary is the list projection of a campaign
type CampaignSummary struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Tagline         string   `json:"tagline"`
	Type            string   `json:"type"`
	Genres          []string `json:"genres"`
	Difficulty      string   `json:"difficulty"`
	EstimatedLength string   `json:"estimatedLength"`
	BackgroundImage string   `json:"backgroundImage"`
	EpicGoal        string   `json:"epicGoal,omitempty"`
}

// Summary projects the campaign for listing
func (c *Campaign) Summary() CampaignSummary {
	return CampaignSummary{
		ID:              c.ID,
		Title:           c.Title,
		Tagline:         c.Tagline,
		Type:            c.Type,
		Genres:          c.Genres,
		Difficulty:      c.Difficulty,
		EstimatedLength: c.EstimatedLength,
		BackgroundImage: c.BackgroundImage,
		EpicGoal:        c.EpicGoal,
	}
}

// FindCharacter returns the campaign character with the given id
func (c *Campaign) FindCharacter(id string) (*Character, bool) {
	for i := range c.Characters {
		if c.Characters[i].ID == id {
			return &c.Characters[i], true
		}
	}
	return nil, false
}

// Normalize fills the defaults a hand-written catalog tends to omit
func (c *Campaign) Normalize() {
	if c.Genres == nil {
		c.Genres = []string{}
	}
	if c.WorldTruths == nil {
		c.WorldTruths = []WorldTruth{}
	}
	if c.Characters == nil {
		c.Characters = []Character{}
	}
	for i := range c.Characters {
		c.Characters[i].normalize()
	}
	c.InitialQuests.normalize()
	c.InitialAnchors.normalize()
}

// Session is one playthrough of a campaign with a chosen character
type Session struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId,omitempty"`
	CampaignID       string           `json:"campaignId"`
	CampaignTitle    string           `json:"campaignTitle"`
	CampaignType     string           `json:"campaignType"`
	CharacterID      string           `json:"characterId"`
	Character        Character        `json:"character"`
	NarrativeHistory []NarrativeEntry `json:"narrativeHistory"`
	CurrentLocation  string           `json:"currentLocation"`
	TurnCount        int              `json:"turnCount"`
	TensionScore     int              `json:"tensionScore"`
	Quests           QuestState       `json:"quests"`
	Anchors          Anchors          `json:"anchors"`
	WorldTruths      []WorldTruth     `json:"worldTruths"`
	Version          int              `json:"version"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Validate rejects documents that break the session invariants.
// Stores call it on every load.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session id is empty", ErrMalformedSession)
	}
	if s.TurnCount < 1 {
		return fmt.Errorf("%w: session %s has turn count %d", ErrMalformedSession, s.ID, s.TurnCount)
	}
	if s.TensionScore < MinTension || s.TensionScore > MaxTension {
		return fmt.Errorf("%w: session %s has tension %d", ErrMalformedSession, s.ID, s.TensionScore)
	}

	lastTurn := 0
	for i, entry := range s.NarrativeHistory {
		if entry.Type != EntryPlayer && entry.Type != EntryDM {
			return fmt.Errorf("%w: entry %d has type %q", ErrMalformedSession, i, entry.Type)
		}
		if entry.Turn < lastTurn {
			return fmt.Errorf("%w: entry %d goes back to turn %d", ErrMalformedSession, i, entry.Turn)
		}
		lastTurn = entry.Turn
	}

	for _, bucket := range [][]Quest{s.Quests.Active, s.Quests.Completed, s.Quests.Failed} {
		for _, q := range bucket {
			if q.Progress < 0 || q.Progress > 100 {
				return fmt.Errorf("%w: quest %s has progress %d", ErrMalformedSession, q.ID, q.Progress)
			}
		}
	}

	for _, item := range s.Character.Inventory {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: inventory item %s has quantity %d", ErrMalformedSession, item.ID, item.Quantity)
		}
	}
	return nil
}

// Normalize replaces nil collections with empty ones so they encode as []
func (s *Session) Normalize() {
	if s.NarrativeHistory == nil {
		s.NarrativeHistory = []NarrativeEntry{}
	}
	if s.WorldTruths == nil {
		s.WorldTruths = []WorldTruth{}
	}
	s.Character.normalize()
	s.Quests.normalize()
	s.Anchors.normalize()
}

func (c *Character) normalize() {
	if c.Inventory == nil {
		c.Inventory = []Item{}
	}
	for i := range c.Inventory {
		if c.Inventory[i].Quantity < 1 {
			c.Inventory[i].Quantity = 1
		}
	}
}

// ClampTension keeps a tension value inside [MinTension, MaxTension]
func ClampTension(value int) int {
	if value < MinTension {
		return MinTension
	}
	if value > MaxTension {
		return MaxTension
	}
	return value
}

// ApplyTension adds delta to score and clamps the result. Deltas larger
// than the whole range are cut down first so the sum cannot overflow.
func ApplyTension(score, delta int) int {
	const span = MaxTension - MinTension
	if delta > span {
		delta = span
	} else if delta < -span {
		delta = -span
	}
	return ClampTension(score + delta)
}

// clone deep-copies a document through its JSON form
func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
