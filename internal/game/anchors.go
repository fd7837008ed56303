package game

// NPC is a character the story has introduced
type NPC struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Disposition    int    `json:"disposition" yaml:"disposition"` // -100 to 100
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// Location is a place the story has introduced
type Location struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Atmosphere     string `json:"atmosphere" yaml:"atmosphere"`
	Discovered     bool   `json:"discovered" yaml:"discovered"`
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// PlotThread is an open narrative question
type PlotThread struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// AnchorItem is a story-significant object, not an inventory item
type AnchorItem struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Significance   string `json:"significance" yaml:"significance"`
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// Faction is an organized group in the setting
type Faction struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Reputation     int    `json:"reputation" yaml:"reputation"`
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// WorldState is a standing condition of the world
type WorldState struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	Timestamp      int    `json:"timestamp" yaml:"timestamp"`
	FirstMentioned int    `json:"firstMentioned" yaml:"firstMentioned"`
}

// Anchors is the catalog of entities a session remembers
type Anchors struct {
	NPCs        []NPC        `json:"npcs" yaml:"npcs"`
	Locations   []Location   `json:"locations" yaml:"locations"`
	PlotThreads []PlotThread `json:"plotThreads" yaml:"plotThreads"`
	Items       []AnchorItem `json:"items" yaml:"items"`
	Factions    []Faction    `json:"factions" yaml:"factions"`
	WorldStates []WorldState `json:"worldStates" yaml:"worldStates"`
}

func (a *Anchors) normalize() {
	if a.NPCs == nil {
		a.NPCs = []NPC{}
	}
	if a.Locations == nil {
		a.Locations = []Location{}
	}
	if a.PlotThreads == nil {
		a.PlotThreads = []PlotThread{}
	}
	if a.Items == nil {
		a.Items = []AnchorItem{}
	}
	if a.Factions == nil {
		a.Factions = []Faction{}
	}
	if a.WorldStates == nil {
		a.WorldStates = []WorldState{}
	}
}

// DiscoveredLocations returns the locations the player has found
func (a *Anchors) DiscoveredLocations() []Location {
	var out []Location
	for _, loc := range a.Locations {
		if loc.Discovered {
			out = append(out, loc)
		}
	}
	return out
}

const defaultAtmosphere = "Neutral"

// MergeAnchors appends the entities proposed by an impact analysis to a copy
// of existing, stamping each with a fresh id and firstMentioned = turn.
// Entries are never matched against existing ones: proposing the same name
// twice yields two rows. Buckets the analysis does not cover are copied as-is.
func MergeAnchors(existing Anchors, analysis ImpactAnalysis, turn int, newID func() string) Anchors {
	merged := Anchors{
		NPCs:        append(make([]NPC, 0, len(existing.NPCs)+len(analysis.NewNPCs)), existing.NPCs...),
		Locations:   append(make([]Location, 0, len(existing.Locations)+len(analysis.NewLocations)), existing.Locations...),
		PlotThreads: append(make([]PlotThread, 0, len(existing.PlotThreads)+len(analysis.NewPlotThreads)), existing.PlotThreads...),
		Items:       append([]AnchorItem{}, existing.Items...),
		Factions:    append([]Faction{}, existing.Factions...),
		WorldStates: append([]WorldState{}, existing.WorldStates...),
	}

	for _, p := range analysis.NewNPCs {
		merged.NPCs = append(merged.NPCs, NPC{
			ID:             newID(),
			Name:           p.Name,
			Description:    p.Description,
			Disposition:    p.Disposition,
			FirstMentioned: turn,
		})
	}

	for _, p := range analysis.NewLocations {
		atmosphere := p.Atmosphere
		if atmosphere == "" {
			atmosphere = defaultAtmosphere
		}
		merged.Locations = append(merged.Locations, Location{
			ID:             newID(),
			Name:           p.Name,
			Description:    p.Description,
			Atmosphere:     atmosphere,
			Discovered:     true,
			FirstMentioned: turn,
		})
	}

	for _, p := range analysis.NewPlotThreads {
		merged.PlotThreads = append(merged.PlotThreads, PlotThread{
			ID:             newID(),
			Name:           p.Name,
			Description:    p.Description,
			FirstMentioned: turn,
		})
	}

	return merged
}
