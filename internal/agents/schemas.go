package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/qninhdt/storyforge/server/internal/game"
)

// impactSchema is the analysis JSON as models actually produce it: numbers
// may come back as floats and quest hints may be null.
type impactSchema struct {
	TensionChange float64 `json:"tension_change"`
	NewNPCs       []struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Disposition float64 `json:"disposition"`
	} `json:"new_npcs"`
	NewLocations []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Atmosphere  string `json:"atmosphere"`
	} `json:"new_locations"`
	NewPlotThreads []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"new_plot_threads"`
	QuestProgress map[string]any `json:"quest_progress"`
}

var errNoJSONObject = errors.New("no JSON object in analysis output")

// maxTensionChange bounds a reported delta before it is converted to int
const maxTensionChange = 1000

// parseImpact reads an analysis reply, tolerating markdown fences and
// surrounding prose. Proposals without a name are dropped.
func parseImpact(text string) (*game.ImpactAnalysis, error) {
	body, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw impactSchema
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}

	analysis := game.NeutralImpact()
	analysis.TensionDelta = int(math.Round(clampFloat(raw.TensionChange, -maxTensionChange, maxTensionChange)))

	for _, n := range raw.NewNPCs {
		if strings.TrimSpace(n.Name) == "" {
			continue
		}
		analysis.NewNPCs = append(analysis.NewNPCs, game.NPCProposal{
			Name:        n.Name,
			Description: n.Description,
			Disposition: int(math.Round(clampFloat(n.Disposition, -100, 100))),
		})
	}
	for _, l := range raw.NewLocations {
		if strings.TrimSpace(l.Name) == "" {
			continue
		}
		analysis.NewLocations = append(analysis.NewLocations, game.LocationProposal{
			Name:        l.Name,
			Description: l.Description,
			Atmosphere:  l.Atmosphere,
		})
	}
	for _, p := range raw.NewPlotThreads {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		analysis.NewPlotThreads = append(analysis.NewPlotThreads, game.PlotThreadProposal{
			Name:        p.Name,
			Description: p.Description,
		})
	}
	for quest, hint := range raw.QuestProgress {
		switch v := hint.(type) {
		case nil:
		case string:
			analysis.QuestProgressHints[quest] = v
		default:
			analysis.QuestProgressHints[quest] = fmt.Sprint(v)
		}
	}
	return &analysis, nil
}

// extractJSONObject strips a ``` or ```json fence and any prose around the
// outermost braces.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return text[start : end+1], nil
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
