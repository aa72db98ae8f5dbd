package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidProtagonist marks protagonist validation failures.
var ErrInvalidProtagonist = errors.New("invalid protagonist")

// Protagonist bounds; ages outside this range are rejected at character creation.
const (
	MinAge = 16
	MaxAge = 100
)

// DefaultName is used when the player submits an empty name.
const DefaultName = "Adventurer"

// Protagonist is the player character. It is created once at session start
// and never mutated afterwards; story generation is parameterized on it.
type Protagonist struct {
	Name              string `json:"name"`
	Gender            string `json:"gender"`
	Age               int    `json:"age"`
	StartingSituation string `json:"starting_situation"`
}

// Normalize fills in defaults for omitted fields.
func (p *Protagonist) Normalize() {
	if p.Name == "" {
		p.Name = DefaultName
	}
	if p.Gender == "" {
		p.Gender = "other"
	}
	if p.StartingSituation == "" {
		p.StartingSituation = "An ordinary person caught in extraordinary circumstances"
	}
}

// Validate checks the protagonist against creation constraints.
func (p Protagonist) Validate() error {
	if p.Age < MinAge || p.Age > MaxAge {
		return fmt.Errorf("%w: age must be between %d and %d, got %d", ErrInvalidProtagonist, MinAge, MaxAge, p.Age)
	}
	return nil
}

func (p Protagonist) String() string {
	return fmt.Sprintf("%s (%s, %d) - %s", p.Name, p.Gender, p.Age, p.StartingSituation)
}

// Choice is a labeled option on a story node. IDs are unique within a node
// but not globally. Choices are immutable once their node is created.
type Choice struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Available bool   `json:"available"`
}

// StoryNode is a unit of narrative text plus its available choices.
// Choice order is significant: it determines the default gesture mapping
// (swipe right selects the first available choice, swipe left the second).
type StoryNode struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Choices  []Choice `json:"choices"`
	Terminal bool     `json:"terminal"`
}

// AvailableChoices returns the node's choices with the availability flag set,
// preserving node order.
func (n StoryNode) AvailableChoices() []Choice {
	avail := make([]Choice, 0, len(n.Choices))
	for _, c := range n.Choices {
		if c.Available {
			avail = append(avail, c)
		}
	}
	return avail
}

// ChoiceByID looks up a choice on the node by its identifier.
func (n StoryNode) ChoiceByID(id int) (Choice, bool) {
	for _, c := range n.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// HistoryEntry records one applied choice as a (node text, choice text) pair.
type HistoryEntry struct {
	NodeText   string `json:"node_text"`
	ChoiceText string `json:"choice_text"`
}
