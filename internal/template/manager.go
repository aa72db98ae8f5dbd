package template

import "sort"

// Manager holds the registered story templates. Templates are registered at
// startup and read-only afterwards, so no locking is needed.
type Manager struct {
	templates map[string]*StoryTemplate
}

// NewManager creates a manager preloaded with the default templates.
func NewManager() *Manager {
	m := &Manager{templates: make(map[string]*StoryTemplate)}
	for _, t := range defaultTemplates() {
		m.Add(t)
	}
	return m
}

// Add registers a template, replacing any previous one with the same id.
func (m *Manager) Add(t *StoryTemplate) {
	m.templates[t.ID] = t
}

// Get returns the template with the given id.
func (m *Manager) Get(id string) (*StoryTemplate, bool) {
	t, ok := m.templates[id]
	return t, ok
}

// Summary is the list form of a template.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// List returns summaries of all templates, ordered by id.
func (m *Manager) List() []Summary {
	out := make([]Summary, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, Summary{ID: t.ID, Title: t.Title, Description: t.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func intPtr(n int) *int { return &n }

// defaultTemplates are the built-in fantasy and sci-fi openings.
func defaultTemplates() []*StoryTemplate {
	fantasy := &StoryTemplate{
		ID:          "fantasy_adventure",
		Title:       "Fantasy Adventure",
		Description: "A customizable fantasy adventure with magical elements",
		Body: "You awaken in a {setting}, feeling disoriented and unsure of how you arrived here.\n" +
			"As a {age_range} {gender} {situation}, you notice a {magical_item} nearby that seems to pulse with otherworldly energy.\n" +
			"The air crackles with magic, and you sense that this place holds both great promise and danger (threat level: {threat_level}/10).\n" +
			"The path ahead is shrouded in mystery, and your choices will determine your fate in this realm.",
		Variables: map[string]CustomVariable{
			"setting": {
				Name:        "setting",
				Description: "The world/location where the adventure takes place",
				Type:        VariableChoice,
				Options:     []string{"enchanted_forest", "ancient_castle", "mystical_mountains", "underground_dungeon"},
			},
			"magical_item": {
				Name:        "magical_item",
				Description: "A magical item the protagonist encounters",
				Type:        VariableChoice,
				Options:     []string{"glowing_crystal", "ancient_scroll", "enchanted_mirror", "mysterious_amulet"},
			},
			"threat_level": {
				Name:         "threat_level",
				Description:  "How dangerous the adventure should be",
				Type:         VariableRange,
				MinValue:     intPtr(1),
				MaxValue:     intPtr(10),
				DefaultValue: "5",
			},
		},
		Scenarios: []Scenario{
			{Name: "Lost Scholar", Values: map[string]string{
				"setting": "ancient_castle", "magical_item": "ancient_scroll", "threat_level": "3",
			}},
			{Name: "Dangerous Quest", Values: map[string]string{
				"setting": "underground_dungeon", "magical_item": "glowing_crystal", "threat_level": "8",
			}},
		},
	}

	scifi := &StoryTemplate{
		ID:          "scifi_exploration",
		Title:       "Sci-Fi Exploration",
		Description: "A space exploration adventure with technology and alien worlds",
		Body: "You find yourself aboard a {location}, surrounded by technology that hums with energy (tech level: {tech_level}/10).\n" +
			"As a {age_range} {gender} {situation}, you're equipped with advanced gear but face an uncertain situation.\n" +
			"Your sensors detect unusual readings that suggest you're not alone in this place.\n" +
			"The future of your mission - and perhaps humanity itself - depends on the decisions you make next.",
		Variables: map[string]CustomVariable{
			"location": {
				Name:        "location",
				Description: "Where the adventure takes place",
				Type:        VariableChoice,
				Options:     []string{"space_station", "alien_planet", "generation_ship", "research_facility"},
			},
			"tech_level": {
				Name:         "tech_level",
				Description:  "Level of available technology",
				Type:         VariableRange,
				MinValue:     intPtr(1),
				MaxValue:     intPtr(10),
				DefaultValue: "7",
			},
			"alien_presence": {
				Name:         "alien_presence",
				Description:  "Are there aliens in this scenario",
				Type:         VariableBoolean,
				DefaultValue: "true",
			},
		},
	}

	return []*StoryTemplate{fantasy, scifi}
}
