package game

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ListCampaigns returns the campaign catalog
func (e *Engine) ListCampaigns(ctx context.Context) ([]CampaignSummary, error) {
	return e.campaigns.ListCampaigns(ctx)
}

// GetCampaign returns one campaign
func (e *Engine) GetCampaign(ctx context.Context, campaignID string) (*Campaign, error) {
	return e.campaigns.GetCampaign(ctx, campaignID)
}

// CampaignCharacters returns the characters a campaign offers
func (e *Engine) CampaignCharacters(ctx context.Context, campaignID string) ([]Character, error) {
	campaign, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return campaign.Characters, nil
}

// StartSession creates a session for a campaign and one of its characters.
// The session gets its own copies of the character, quests, anchors and
// world truths.
func (e *Engine) StartSession(ctx context.Context, campaignID, characterID, ownerID string) (*Session, error) {
	log := e.logger.With(zap.String("campaignID", campaignID), zap.String("characterID", characterID))

	campaign, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("Campaign not found")
		}
		return nil, err
	}
	template, ok := campaign.FindCharacter(characterID)
	if !ok {
		log.Warn("Character not found in campaign")
		return nil, fmt.Errorf("%w: %s", ErrCharacterNotFound, characterID)
	}

	character, err := clone(*template)
	if err != nil {
		return nil, fmt.Errorf("failed to copy character: %w", err)
	}
	quests, err := clone(campaign.InitialQuests)
	if err != nil {
		return nil, fmt.Errorf("failed to copy quests: %w", err)
	}
	anchors, err := clone(campaign.InitialAnchors)
	if err != nil {
		return nil, fmt.Errorf("failed to copy anchors: %w", err)
	}
	truths, err := clone(campaign.WorldTruths)
	if err != nil {
		return nil, fmt.Errorf("failed to copy world truths: %w", err)
	}

	opening := e.openStory(ctx, campaign, &character)
	now := e.now()

	session := &Session{
		ID:            e.newID(),
		OwnerID:       ownerID,
		CampaignID:    campaign.ID,
		CampaignTitle: campaign.Title,
		CampaignType:  campaign.Type,
		CharacterID:   character.ID,
		Character:     character,
		NarrativeHistory: []NarrativeEntry{{
			Turn:          1,
			Type:          EntryDM,
			Content:       opening.Text,
			LocationImage: campaign.BackgroundImage,
			Timestamp:     now,
		}},
		CurrentLocation: campaign.BackgroundImage,
		TurnCount:       1,
		TensionScore:    0,
		Quests:          quests,
		Anchors:         anchors,
		WorldTruths:     truths,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	session.Normalize()

	if err := e.sessions.InsertSession(ctx, session); err != nil {
		log.Error("Failed to insert session", zap.Error(err))
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	sessionsStarted.Inc()
	log.Info("Session started", zap.String("sessionID", session.ID), zap.Bool("openingFallback", opening.Fallback))
	return session, nil
}

// GetSession returns a session by id
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	return e.sessions.GetSession(ctx, sessionID)
}

// EndSession deletes a session
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if err := e.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("Session ended", zap.String("sessionID", sessionID))
	return nil
}

// Quests returns a session's quest buckets
func (e *Engine) Quests(ctx context.Context, sessionID string) (*QuestState, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &session.Quests, nil
}

// Anchors returns a session's anchor catalog
func (e *Engine) Anchors(ctx context.Context, sessionID string) (*Anchors, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &session.Anchors, nil
}

// CompleteObjective marks a quest objective completed and returns the
// resulting quest state. Unknown quest or objective ids are not an error:
// the state comes back unchanged and nothing is written.
func (e *Engine) CompleteObjective(ctx context.Context, sessionID, questID, objectiveID string) (*QuestState, error) {
	log := e.logger.With(zap.String("sessionID", sessionID), zap.String("questID", questID), zap.String("objectiveID", objectiveID))

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var quests QuestState
	changed := false
	_, err = e.commit(ctx, session, func(s *Session) (SessionUpdate, error) {
		quests = s.Quests
		changed = CompleteObjective(&quests, questID, objectiveID)
		if !changed {
			return SessionUpdate{}, errNothingToWrite
		}
		return SessionUpdate{Quests: &quests, UpdatedAt: e.now()}, nil
	})
	if errors.Is(err, errNothingToWrite) {
		log.Info("Objective not found in active quests, nothing changed")
		return &quests, nil
	}
	if err != nil {
		log.Error("Failed to complete objective", zap.Error(err))
		return nil, err
	}

	log.Info("Objective completed")
	return &quests, nil
}

// Equip moves an inventory item into an equipment slot
func (e *Engine) Equip(ctx context.Context, sessionID, itemID string, slot Slot) (*Character, error) {
	return e.changeEquipment(ctx, sessionID, func(c *Character) error {
		return c.Equip(itemID, slot)
	})
}

// Unequip moves the item in a slot back to the inventory
func (e *Engine) Unequip(ctx context.Context, sessionID string, slot Slot) (*Character, error) {
	return e.changeEquipment(ctx, sessionID, func(c *Character) error {
		return c.Unequip(slot)
	})
}

func (e *Engine) changeEquipment(ctx context.Context, sessionID string, change func(*Character) error) (*Character, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var character Character
	_, err = e.commit(ctx, session, func(s *Session) (SessionUpdate, error) {
		copied, err := clone(s.Character)
		if err != nil {
			return SessionUpdate{}, fmt.Errorf("failed to copy character: %w", err)
		}
		if err := change(&copied); err != nil {
			return SessionUpdate{}, err
		}
		character = copied
		return SessionUpdate{Character: &character, UpdatedAt: e.now()}, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
			e.logger.Info("Equipment change rejected", zap.String("sessionID", sessionID), zap.Error(err))
		} else {
			e.logger.Error("Failed to change equipment", zap.String("sessionID", sessionID), zap.Error(err))
		}
		return nil, err
	}
	return &character, nil
}

var errNothingToWrite = errors.New("nothing to write")
