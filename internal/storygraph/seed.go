package storygraph

import (
	"context"
	"fmt"
	"math/rand"

	"oraculus-server/internal/domain"
)

// seedEntry is one node of the built-in seed tree. Children are ordered;
// their position determines choice ids (1..N) and therefore the default
// gesture mapping.
type seedEntry struct {
	story    string
	children []string
}

// seedRootID is the id of the seed tree root.
const seedRootID = "start"

// seedTree is the hand-authored opening of the adventure. Nodes without
// children get dynamic choices whose transitions are synthesized on demand.
var seedTree = map[string]seedEntry{
	"start": {
		story: "You wake up in a dimly lit room with no memory of how you got here. " +
			"The air feels thick and mysterious. To your left, you see a dusty mirror " +
			"reflecting strange shadows. To your right, an old wooden door stands slightly ajar.",
		children: []string{"examine_mirror", "approach_door"},
	},
	"examine_mirror": {
		story: "You approach the ornate mirror. As you look into it, your reflection " +
			"seems to shimmer and change. For a moment, you see yourself differently - " +
			"older, younger, or perhaps from another time entirely. The mirror's surface " +
			"ripples like water.",
		children: []string{"touch_mirror", "step_away_mirror"},
	},
	"approach_door": {
		story: "You slowly push the door open and step into a long, winding corridor. " +
			"Ancient torches flicker along the stone walls, casting dancing shadows. " +
			"The corridor splits into two paths: one descends into darkness, the other " +
			"leads toward a faint, warm light.",
		children: []string{"dark_path", "light_path"},
	},
	"touch_mirror": {
		story: "As your fingertips touch the mirror's surface, it gives way like liquid. " +
			"You feel a strange pulling sensation, and suddenly you're standing in what " +
			"appears to be the same room, but everything is reversed and slightly different. " +
			"A voice whispers: 'Welcome to the other side.'",
	},
	"step_away_mirror": {
		story: "You step back from the unsettling mirror, deciding some mysteries are better " +
			"left alone. As you turn away, you notice a small, leather-bound journal on a " +
			"nearby table that wasn't there before. Its pages seem to flutter on their own.",
	},
	"dark_path": {
		story: "You choose the darker path, feeling your way along the cold stone walls. " +
			"After several minutes, you emerge into a vast underground chamber filled with " +
			"glowing crystals. Their light reveals ancient carvings on the walls that seem " +
			"to tell a story about travelers like yourself.",
		children: []string{"investigate_crystals"},
	},
	"light_path": {
		story: "Following the warm light, you find yourself in a cozy library filled with " +
			"floating books and scrolls. An elderly figure in robes looks up from a desk " +
			"and smiles knowingly. 'Ah, another seeker has arrived. I've been expecting you.'",
		children: []string{"meet_librarian"},
	},
	"investigate_crystals": {
		story: "You approach the largest crystal, which pulses with an inner light. " +
			"As you touch it, visions flood your mind - glimpses of other adventurers " +
			"who came before you, each making choices that shaped their destiny. " +
			"You realize this place responds to the decisions of those who enter.",
	},
	"meet_librarian": {
		story: "The librarian gestures to a chair across from their desk. 'Every story " +
			"needs a beginning, and every choice creates new possibilities. You have " +
			"the power to shape not just your path, but the very nature of this realm. " +
			"What kind of story do you wish to write?'",
	},
}

// choiceTexts maps seed node ids to readable choice labels.
var choiceTexts = map[string]string{
	"examine_mirror":       "Examine the mysterious mirror",
	"approach_door":        "Approach the wooden door",
	"touch_mirror":         "Touch the mirror's surface",
	"step_away_mirror":     "Step away from the mirror",
	"dark_path":            "Take the dark path downward",
	"light_path":           "Follow the path toward the light",
	"investigate_crystals": "Investigate the glowing crystals",
	"meet_librarian":       "Speak with the librarian",
}

// fallbackChoiceTexts are the generic continuations used on leaf nodes and
// whenever generation is unavailable.
var fallbackChoiceTexts = []string{
	"Continue exploring the area",
	"Look for more clues about your situation",
	"Try to remember how you got here",
	"Search for a way out",
}

// SeedProvider serves the built-in seed tree, resolved against a concrete
// protagonist. Transitions without a mapped child synthesize one
// near-terminal continuation node per (node, choice), so the game never dead
// ends.
type SeedProvider struct {
	protagonist domain.Protagonist
	rng         *rand.Rand
}

// NewSeedProvider creates a provider for the given protagonist. seed
// parameterizes the shuffle of fallback choices; pass the same value to get
// reproducible choice lists in tests.
func NewSeedProvider(p domain.Protagonist, seed int64) *SeedProvider {
	return &SeedProvider{
		protagonist: p,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Deferred is false: all seed transitions resolve synchronously in memory.
func (s *SeedProvider) Deferred() bool { return false }

// InitialNodes returns the root of the seed tree.
func (s *SeedProvider) InitialNodes(ctx context.Context) ([]domain.StoryNode, error) {
	return []domain.StoryNode{s.buildNode(seedRootID)}, nil
}

// ResolveTransition returns the mapped child for a seed node choice, or a
// synthesized continuation when the choice leads off the authored tree.
func (s *SeedProvider) ResolveTransition(ctx context.Context, nodeID string, choiceID int) (domain.StoryNode, error) {
	if node, ok := s.MappedChild(nodeID, choiceID); ok {
		return node, nil
	}
	return s.ContinuationNode(nodeID, choiceID), nil
}

// MappedChild resolves a transition strictly within the authored tree.
func (s *SeedProvider) MappedChild(nodeID string, choiceID int) (domain.StoryNode, bool) {
	entry, ok := seedTree[nodeID]
	if !ok {
		return domain.StoryNode{}, false
	}
	if choiceID < 1 || choiceID > len(entry.children) {
		return domain.StoryNode{}, false
	}
	return s.buildNode(entry.children[choiceID-1]), true
}

// ContinuationNode synthesizes the terminal "story continues" node used for
// unmapped transitions and provider failures.
func (s *SeedProvider) ContinuationNode(nodeID string, choiceID int) domain.StoryNode {
	return ContinuationNode(s.protagonist, nodeID, choiceID)
}

// ContinuationNode builds the generic terminal fallback node for a
// (node, choice) pair. It is what the player sees instead of an error when a
// transition cannot be resolved.
func ContinuationNode(p domain.Protagonist, nodeID string, choiceID int) domain.StoryNode {
	text := domain.ResolveVariables(
		"The path ahead blurs for a moment, {name}. The realm is still writing this part "+
			"of your story - every traveler who passes here leaves it a little more real. "+
			"For now, the story continues beyond what can be seen.",
		p,
	)
	return domain.StoryNode{
		ID:       fmt.Sprintf("%s_c%d_unwritten", nodeID, choiceID),
		Text:     text,
		Terminal: true,
	}
}

// buildNode assembles a StoryNode for a seed tree id: mapped children become
// ordered choices; leaves get shuffled fallback choices instead, so that the
// branch keeps going until a synthesized ending.
func (s *SeedProvider) buildNode(id string) domain.StoryNode {
	entry := seedTree[id]
	node := domain.StoryNode{
		ID:   id,
		Text: domain.ResolveVariables(entry.story, s.protagonist),
	}

	if len(entry.children) > 0 {
		for i, childID := range entry.children {
			node.Choices = append(node.Choices, domain.Choice{
				ID:        i + 1,
				Text:      choiceTexts[childID],
				Available: true,
			})
		}
		return node
	}

	texts := make([]string, len(fallbackChoiceTexts))
	copy(texts, fallbackChoiceTexts)
	s.rng.Shuffle(len(texts), func(i, j int) { texts[i], texts[j] = texts[j], texts[i] })
	for i := 0; i < 3; i++ {
		node.Choices = append(node.Choices, domain.Choice{
			ID:        i + 1,
			Text:      texts[i],
			Available: true,
		})
	}
	return node
}
