package storygraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oraculus-server/internal/domain"
	"oraculus-server/pkg/ai"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) GenerateNode(ctx context.Context, req ai.NodeRequest) (ai.NodeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ai.NodeResult), args.Error(1)
}

type memoryCache struct {
	nodes map[string]domain.StoryNode
}

func newMemoryCache() *memoryCache {
	return &memoryCache{nodes: make(map[string]domain.StoryNode)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (*domain.StoryNode, error) {
	if node, ok := c.nodes[key]; ok {
		return &node, nil
	}
	return nil, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, node domain.StoryNode) error {
	c.nodes[key] = node
	return nil
}

func TestAIProviderIsDeferred(t *testing.T) {
	p := NewAIProvider(new(mockGenerator), nil, testProtagonist(), zap.NewNop())
	assert.True(t, p.Deferred())
}

func TestAIProviderServesMappedTransitionsWithoutGeneration(t *testing.T) {
	gen := new(mockGenerator)
	p := NewAIProvider(gen, nil, testProtagonist(), zap.NewNop())

	node, err := p.ResolveTransition(context.Background(), "start", 1)
	require.NoError(t, err)
	assert.Equal(t, "examine_mirror", node.ID)
	gen.AssertNotCalled(t, "GenerateNode")
}

func TestAIProviderGeneratesUnmappedTransitions(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("GenerateNode", mock.Anything, mock.Anything).Return(ai.NodeResult{
		Story:   "The mirror world unfolds before {name}.",
		Choices: []string{"Explore the reversed room", "Call out to the voice"},
	}, nil)

	cache := newMemoryCache()
	p := NewAIProvider(gen, cache, testProtagonist(), zap.NewNop())

	node, err := p.ResolveTransition(context.Background(), "touch_mirror", 1)
	require.NoError(t, err)
	assert.Contains(t, node.Text, "Kira", "placeholders in generated text are substituted")
	require.Len(t, node.Choices, 2)
	assert.Equal(t, 1, node.Choices[0].ID)
	assert.True(t, node.Choices[0].Available)

	// The generated node lands in the cache under the variable key.
	key := domain.VariableKey("touch_mirror_c1", testProtagonist())
	cached, err := cache.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, node.ID, cached.ID)
}

func TestAIProviderCacheHitSkipsGeneration(t *testing.T) {
	gen := new(mockGenerator)
	cache := newMemoryCache()

	key := domain.VariableKey("touch_mirror_c1", testProtagonist())
	cached := domain.StoryNode{ID: key, Text: "A remembered branch.", Choices: []domain.Choice{
		{ID: 1, Text: "Go on", Available: true},
	}}
	require.NoError(t, cache.Set(context.Background(), key, cached))

	p := NewAIProvider(gen, cache, testProtagonist(), zap.NewNop())

	node, err := p.ResolveTransition(context.Background(), "touch_mirror", 1)
	require.NoError(t, err)
	assert.Equal(t, "A remembered branch.", node.Text)
	gen.AssertNotCalled(t, "GenerateNode")
}

func TestAIProviderFallsBackOnGenerationFailure(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("GenerateNode", mock.Anything, mock.Anything).
		Return(ai.NodeResult{}, errors.New("model unavailable"))

	p := NewAIProvider(gen, nil, testProtagonist(), zap.NewNop())

	node, err := p.ResolveTransition(context.Background(), "touch_mirror", 1)
	require.NoError(t, err, "generation failures must not surface to the player")
	assert.True(t, node.Terminal)
	assert.Contains(t, node.Text, "the story continues")
}

func TestAIProviderPassesChoiceContextToGenerator(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("GenerateNode", mock.Anything, mock.MatchedBy(func(req ai.NodeRequest) bool {
		return req.ChoiceText != "" && req.CurrentStory != ""
	})).Return(ai.NodeResult{Story: "Next.", Choices: []string{"On"}}, nil)

	p := NewAIProvider(gen, nil, testProtagonist(), zap.NewNop())
	ctx := context.Background()

	// Walk an authored path first so the provider knows the node behind the id.
	_, err := p.InitialNodes(ctx)
	require.NoError(t, err)
	_, err = p.ResolveTransition(ctx, "start", 1)
	require.NoError(t, err)
	_, err = p.ResolveTransition(ctx, "examine_mirror", 1)
	require.NoError(t, err)

	// touch_mirror is a leaf; its choices lead off the authored tree.
	_, err = p.ResolveTransition(ctx, "touch_mirror", 1)
	require.NoError(t, err)
	gen.AssertExpectations(t)
}
