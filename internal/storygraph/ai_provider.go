package storygraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oraculus-server/internal/domain"
	"oraculus-server/pkg/ai"

	"go.uber.org/zap"
)

// NodeCache stores generated nodes keyed by variable key, so protagonists of
// a similar profile reuse branches instead of paying for generation again.
// A miss is reported as (nil, nil).
type NodeCache interface {
	Get(ctx context.Context, key string) (*domain.StoryNode, error)
	Set(ctx context.Context, key string, node domain.StoryNode) error
}

// AIProvider serves the authored seed tree and generates new branches with an
// LLM once the player walks off it. Generation failures degrade to the seed
// provider's continuation node; the player never sees an error.
type AIProvider struct {
	seed        *SeedProvider
	gen         ai.Generator
	cache       NodeCache
	protagonist domain.Protagonist
	logger      *zap.Logger

	mu     sync.RWMutex
	issued map[string]domain.StoryNode
}

// NewAIProvider creates a session-scoped provider. cache may be nil, in which
// case every unmapped transition is generated fresh.
func NewAIProvider(gen ai.Generator, cache NodeCache, p domain.Protagonist, logger *zap.Logger) *AIProvider {
	return &AIProvider{
		seed:        NewSeedProvider(p, time.Now().UnixNano()),
		gen:         gen,
		cache:       cache,
		protagonist: p,
		logger:      logger.Named("AIProvider"),
		issued:      make(map[string]domain.StoryNode),
	}
}

// Deferred is true: unmapped transitions call out to the model.
func (p *AIProvider) Deferred() bool { return true }

// InitialNodes returns the seed tree root.
func (p *AIProvider) InitialNodes(ctx context.Context) ([]domain.StoryNode, error) {
	nodes, err := p.seed.InitialNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		p.remember(n)
	}
	return nodes, nil
}

// ResolveTransition resolves authored transitions from the seed tree and
// generates everything else, consulting the cache first.
func (p *AIProvider) ResolveTransition(ctx context.Context, nodeID string, choiceID int) (domain.StoryNode, error) {
	if node, ok := p.seed.MappedChild(nodeID, choiceID); ok {
		p.remember(node)
		return node, nil
	}

	key := domain.VariableKey(fmt.Sprintf("%s_c%d", nodeID, choiceID), p.protagonist)

	if p.cache != nil {
		cached, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Warn("node cache lookup failed", zap.String("key", key), zap.Error(err))
		} else if cached != nil {
			p.logger.Debug("node cache hit", zap.String("key", key))
			p.remember(*cached)
			return *cached, nil
		}
	}

	node, err := p.generate(ctx, nodeID, choiceID, key)
	if err != nil {
		p.logger.Warn("node generation failed, substituting continuation node",
			zap.String("node_id", nodeID), zap.Int("choice_id", choiceID), zap.Error(err))
		fallback := p.seed.ContinuationNode(nodeID, choiceID)
		p.remember(fallback)
		return fallback, nil
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, node); err != nil {
			p.logger.Warn("node cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
	p.remember(node)
	return node, nil
}

func (p *AIProvider) generate(ctx context.Context, nodeID string, choiceID int, key string) (domain.StoryNode, error) {
	current, choiceText := p.recall(nodeID, choiceID)

	result, err := p.gen.GenerateNode(ctx, ai.NodeRequest{
		Protagonist:  p.protagonist,
		CurrentStory: current.Text,
		ChoiceText:   choiceText,
	})
	if err != nil {
		return domain.StoryNode{}, err
	}

	node := domain.StoryNode{
		ID:   key,
		Text: domain.ResolveVariables(result.Story, p.protagonist),
	}
	for i, text := range result.Choices {
		node.Choices = append(node.Choices, domain.Choice{
			ID:        i + 1,
			Text:      text,
			Available: true,
		})
	}
	return node, nil
}

// remember tracks nodes handed to the engine so later transitions can recover
// the story text behind a node id.
func (p *AIProvider) remember(node domain.StoryNode) {
	p.mu.Lock()
	p.issued[node.ID] = node
	p.mu.Unlock()
}

func (p *AIProvider) recall(nodeID string, choiceID int) (domain.StoryNode, string) {
	p.mu.RLock()
	node, ok := p.issued[nodeID]
	p.mu.RUnlock()
	if !ok {
		return domain.StoryNode{}, fmt.Sprintf("choice %d", choiceID)
	}
	if choice, ok := node.ChoiceByID(choiceID); ok {
		return node, choice.Text
	}
	return node, fmt.Sprintf("choice %d", choiceID)
}
