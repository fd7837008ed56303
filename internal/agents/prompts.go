package agents

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/qninhdt/storyforge/server/internal/game"
)

//go:embed prompts/dungeon_master.txt
var dungeonMasterPrompt string

//go:embed prompts/impact_analysis.txt
var impactAnalysisPrompt string

//go:embed prompts/opening_system.txt
var openingSystemPrompt string

//go:embed prompts/opening.txt
var openingPrompt string

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
	"join": strings.Join,
}

var (
	dungeonMasterTmpl  = template.Must(template.New("dungeon_master").Funcs(promptFuncs).Parse(dungeonMasterPrompt))
	impactAnalysisTmpl = template.Must(template.New("impact_analysis").Funcs(promptFuncs).Parse(impactAnalysisPrompt))
	openingTmpl        = template.Must(template.New("opening").Funcs(promptFuncs).Parse(openingPrompt))
)

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sceneContext is what the dungeon master prompt shows of a session
type sceneContext struct {
	CampaignTitle string
	CampaignType  string
	TurnCount     int
	TensionScore  int
	Character     game.Character
	Truths        []game.WorldTruth
	NPCs          []game.NPC
	Locations     []game.Location
	Quests        []game.Quest
}

func newSceneContext(s *game.Session) sceneContext {
	scene := sceneContext{
		CampaignTitle: s.CampaignTitle,
		CampaignType:  s.CampaignType,
		TurnCount:     s.TurnCount,
		TensionScore:  s.TensionScore,
		Character:     s.Character,
		NPCs:          s.Anchors.NPCs,
		Locations:     s.Anchors.DiscoveredLocations(),
		Quests:        s.Quests.Active,
	}
	if scene.CampaignTitle == "" {
		scene.CampaignTitle = "Unknown"
	}
	if scene.CampaignType == "" {
		scene.CampaignType = "Fated"
	}
	// truths the player already knows don't need steering
	for _, t := range s.WorldTruths {
		if t.Visibility != "Known" {
			scene.Truths = append(scene.Truths, t)
		}
	}
	for i := range scene.Locations {
		if scene.Locations[i].Atmosphere == "" {
			scene.Locations[i].Atmosphere = "Neutral"
		}
	}
	return scene
}

// analysisContext is what the impact analysis prompt shows of a turn
type analysisContext struct {
	Action        string
	Narrative     string
	QuestTitles   []string
	NPCNames      []string
	LocationNames []string
}

func newAnalysisContext(s *game.Session, action, narrative string) analysisContext {
	ac := analysisContext{
		Action:        action,
		Narrative:     narrative,
		QuestTitles:   []string{},
		NPCNames:      []string{},
		LocationNames: []string{},
	}
	for _, q := range s.Quests.Active {
		ac.QuestTitles = append(ac.QuestTitles, q.Title)
	}
	for _, n := range s.Anchors.NPCs {
		ac.NPCNames = append(ac.NPCNames, n.Name)
	}
	for _, l := range s.Anchors.Locations {
		ac.LocationNames = append(ac.LocationNames, l.Name)
	}
	return ac
}
