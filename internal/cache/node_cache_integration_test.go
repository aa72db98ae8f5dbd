package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"oraculus-server/internal/cache"
	"oraculus-server/internal/domain"
)

type NodeCacheSuite struct {
	suite.Suite
	ctx         context.Context
	rdContainer *tcredis.RedisContainer
	client      *redis.Client
	cache       *cache.RedisNodeCache
}

func (s *NodeCacheSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.rdContainer, err = tcredis.Run(s.ctx, "redis:7-alpine")
	require.NoError(s.T(), err, "Failed to start redis container")

	uri, err := s.rdContainer.ConnectionString(s.ctx)
	require.NoError(s.T(), err)

	opts, err := redis.ParseURL(uri)
	require.NoError(s.T(), err)
	s.client = redis.NewClient(opts)
	require.NoError(s.T(), s.client.Ping(s.ctx).Err())

	s.cache = cache.NewRedisNodeCache(s.client, time.Minute, zap.NewNop())
}

func (s *NodeCacheSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.rdContainer != nil {
		_ = s.rdContainer.Terminate(s.ctx)
	}
}

func (s *NodeCacheSuite) TestMissReturnsNilNil() {
	node, err := s.cache.Get(s.ctx, "start_female_adult")
	s.NoError(err)
	s.Nil(node)
}

func (s *NodeCacheSuite) TestRoundTrip() {
	stored := domain.StoryNode{
		ID:   "start_c1_female_adult",
		Text: "The mirror ripples.",
		Choices: []domain.Choice{
			{ID: 1, Text: "Touch it", Available: true},
			{ID: 2, Text: "Step back", Available: true},
		},
	}
	require.NoError(s.T(), s.cache.Set(s.ctx, "start_c1_female_adult", stored))

	got, err := s.cache.Get(s.ctx, "start_c1_female_adult")
	require.NoError(s.T(), err)
	require.NotNil(s.T(), got)
	s.Equal(stored.ID, got.ID)
	s.Equal(stored.Text, got.Text)
	s.Len(got.Choices, 2)
}

func (s *NodeCacheSuite) TestCorruptEntryIsDroppedAsMiss() {
	require.NoError(s.T(), s.client.Set(s.ctx, "story_node:broken_key", "not json{", 0).Err())

	node, err := s.cache.Get(s.ctx, "broken_key")
	s.NoError(err)
	s.Nil(node)

	// The corrupt entry was deleted, not left to fail again.
	exists, err := s.client.Exists(s.ctx, "story_node:broken_key").Result()
	s.NoError(err)
	s.Zero(exists)
}

func TestNodeCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(NodeCacheSuite))
}
