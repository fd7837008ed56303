// Package campaign holds the built-in campaign catalog and seeds it into a store.
package campaign

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/qninhdt/storyforge/server/internal/game"
)

//go:embed campaigns.yaml
var catalogYAML []byte

// Store is where seeded campaigns are written
type Store interface {
	CountCampaigns(ctx context.Context) (int, error)
	SaveCampaigns(ctx context.Context, campaigns []*game.Campaign) error
}

// Load parses the embedded catalog
func Load() ([]*game.Campaign, error) {
	return parse(catalogYAML)
}

func parse(data []byte) ([]*game.Campaign, error) {
	var doc struct {
		Campaigns []*game.Campaign `yaml:"campaigns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse campaign catalog: %w", err)
	}

	seen := make(map[string]bool, len(doc.Campaigns))
	for _, c := range doc.Campaigns {
		if c.ID == "" || c.Title == "" {
			return nil, fmt.Errorf("campaign catalog: entry without id or title")
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("campaign catalog: duplicate campaign %s", c.ID)
		}
		seen[c.ID] = true
		if len(c.Characters) == 0 {
			return nil, fmt.Errorf("campaign catalog: %s has no characters", c.ID)
		}

		chars := make(map[string]bool, len(c.Characters))
		for _, ch := range c.Characters {
			if ch.ID == "" || chars[ch.ID] {
				return nil, fmt.Errorf("campaign catalog: %s has a missing or duplicate character id %q", c.ID, ch.ID)
			}
			chars[ch.ID] = true
		}

		c.Normalize()
		for i := range c.InitialQuests.Active {
			q := &c.InitialQuests.Active[i]
			q.Progress = game.ObjectiveProgress(q.SubObjectives)
		}
	}
	return doc.Campaigns, nil
}

// Seed writes the embedded catalog when the store has no campaigns yet.
// It returns how many campaigns were written.
func Seed(ctx context.Context, store Store, logger *zap.Logger) (int, error) {
	n, err := store.CountCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count campaigns: %w", err)
	}
	if n > 0 {
		logger.Info("Campaign catalog already present, skipping seed", zap.Int("campaigns", n))
		return 0, nil
	}

	campaigns, err := Load()
	if err != nil {
		return 0, err
	}
	if err := store.SaveCampaigns(ctx, campaigns); err != nil {
		return 0, fmt.Errorf("failed to save campaigns: %w", err)
	}

	logger.Info("Seeded campaign catalog", zap.Int("campaigns", len(campaigns)))
	return len(campaigns), nil
}
