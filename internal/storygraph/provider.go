package storygraph

import (
	"context"

	"oraculus-server/internal/domain"
)

// Provider supplies the story graph for one session: the initial ordered node
// sequence and the transition implied by a (node id, choice id) pair. A
// provider must guarantee that every non-terminal node carries at least one
// available choice, and that every choice id it hands out exists on its node.
//
// Providers are session-scoped: they are constructed for a concrete
// protagonist so that node text and cache keys can be parameterized on it.
type Provider interface {
	InitialNodes(ctx context.Context) ([]domain.StoryNode, error)
	ResolveTransition(ctx context.Context, nodeID string, choiceID int) (domain.StoryNode, error)

	// Deferred reports whether ResolveTransition may block on an external
	// call. Deferred providers are driven through the task manager; the UI
	// stays in the awaiting state until the node arrives.
	Deferred() bool
}

// Factory builds a provider for a protagonist at session start.
type Factory func(p domain.Protagonist) Provider
