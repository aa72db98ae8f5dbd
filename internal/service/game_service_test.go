package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oraculus-server/internal/domain"
	"oraculus-server/internal/game"
	"oraculus-server/internal/repository"
	"oraculus-server/internal/service"
	"oraculus-server/internal/storygraph"
	"oraculus-server/pkg/taskmanager"
)

// memoryStore is an in-memory SessionStore.
type memoryStore struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*repository.SessionRecord
	feedback []repository.FeedbackEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[uuid.UUID]*repository.SessionRecord)}
}

func (s *memoryStore) Create(ctx context.Context, rec *repository.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *memoryStore) SaveState(ctx context.Context, id uuid.UUID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	rec.State = state
	return nil
}

func (s *memoryStore) AppendFeedback(ctx context.Context, ev repository.FeedbackEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, ev)
	return nil
}

func (s *memoryStore) feedbackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feedback)
}

// blockingProvider is a deferred provider whose resolutions wait until
// release is closed, to exercise the awaiting state.
type blockingProvider struct {
	inner   *storygraph.SeedProvider
	release chan struct{}
}

func (p *blockingProvider) Deferred() bool { return true }

func (p *blockingProvider) InitialNodes(ctx context.Context) ([]domain.StoryNode, error) {
	return p.inner.InitialNodes(ctx)
}

func (p *blockingProvider) ResolveTransition(ctx context.Context, nodeID string, choiceID int) (domain.StoryNode, error) {
	<-p.release
	return p.inner.ResolveTransition(ctx, nodeID, choiceID)
}

func seedFactory() storygraph.Factory {
	return func(p domain.Protagonist) storygraph.Provider {
		return storygraph.NewSeedProvider(p, 1)
	}
}

func newService(t *testing.T, providers storygraph.Factory) (*service.GameService, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	tasks := taskmanager.NewManager()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})
	return service.NewGameService(store, providers, tasks, zap.NewNop()), store
}

func kira() domain.Protagonist {
	return domain.Protagonist{Name: "Kira", Gender: "female", Age: 30, StartingSituation: "a wandering scholar"}
}

func TestCreateSession(t *testing.T) {
	svc, store := newService(t, seedFactory())

	view, err := svc.CreateSession(context.Background(), kira())
	require.NoError(t, err)
	require.NotNil(t, view.State.Node)
	assert.Equal(t, "start", view.State.Node.ID)
	assert.Equal(t, 0, view.State.Index)

	store.mu.Lock()
	_, persisted := store.records[view.ID]
	store.mu.Unlock()
	assert.True(t, persisted)
}

func TestCreateSessionDefaultsAndValidation(t *testing.T) {
	svc, _ := newService(t, seedFactory())

	t.Run("empty name gets the default", func(t *testing.T) {
		view, err := svc.CreateSession(context.Background(), domain.Protagonist{Age: 20})
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultName, view.Protagonist.Name)
	})

	t.Run("age out of range is rejected", func(t *testing.T) {
		_, err := svc.CreateSession(context.Background(), domain.Protagonist{Name: "Kid", Age: 12})
		assert.ErrorIs(t, err, domain.ErrInvalidProtagonist)
	})
}

func TestGetSessionUnknown(t *testing.T) {
	svc, _ := newService(t, seedFactory())
	_, err := svc.GetSession(uuid.New())
	assert.ErrorIs(t, err, service.ErrSessionNotFound)
}

func TestApplyChoiceSynchronous(t *testing.T) {
	svc, store := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	outcome, err := svc.ApplyChoice(ctx, view.ID, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.False(t, outcome.Awaiting)
	require.NotNil(t, outcome.State.Node)
	assert.Equal(t, "examine_mirror", outcome.State.Node.ID)
	assert.Equal(t, 1, outcome.State.Index)
	require.Len(t, outcome.State.History, 1)
	assert.Equal(t, "Examine the mysterious mirror", outcome.State.History[0].ChoiceText)

	assert.Equal(t, 1, store.feedbackCount())
}

func TestApplyChoiceInvalid(t *testing.T) {
	svc, store := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	_, err = svc.ApplyChoice(ctx, view.ID, 99)
	assert.ErrorIs(t, err, game.ErrInvalidChoice)

	// State must be untouched and no feedback recorded.
	after, err := svc.GetSession(view.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.State.Index)
	assert.Empty(t, after.State.History)
	assert.Equal(t, 0, store.feedbackCount())
}

func TestApplyGesture(t *testing.T) {
	svc, _ := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	t.Run("sub-threshold gesture leaves state untouched", func(t *testing.T) {
		outcome, err := svc.ApplyGesture(ctx, view.ID, game.Gesture{OffsetX: 30, VelocityX: 100})
		require.NoError(t, err)
		assert.False(t, outcome.Resolved)
		assert.Equal(t, 0, outcome.State.Index)
	})

	t.Run("left swipe takes the second choice", func(t *testing.T) {
		outcome, err := svc.ApplyGesture(ctx, view.ID, game.Gesture{OffsetX: -150})
		require.NoError(t, err)
		assert.True(t, outcome.Resolved)
		assert.Equal(t, 2, outcome.ChoiceID)
		require.NotNil(t, outcome.State.Node)
		assert.Equal(t, "approach_door", outcome.State.Node.ID)
	})
}

func TestApplyKey(t *testing.T) {
	svc, _ := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	t.Run("unrecognized key is a no-op", func(t *testing.T) {
		outcome, err := svc.ApplyKey(ctx, view.ID, "Escape")
		require.NoError(t, err)
		assert.False(t, outcome.Resolved)
	})

	t.Run("digit selects directly", func(t *testing.T) {
		outcome, err := svc.ApplyKey(ctx, view.ID, "1")
		require.NoError(t, err)
		assert.True(t, outcome.Resolved)
		assert.Equal(t, 1, outcome.ChoiceID)
	})
}

func TestDeferredResolution(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{})}
	factory := func(p domain.Protagonist) storygraph.Provider {
		provider.inner = storygraph.NewSeedProvider(p, 1)
		return provider
	}
	svc, _ := newService(t, factory)
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	outcome, err := svc.ApplyChoice(ctx, view.ID, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Resolved)
	assert.True(t, outcome.Awaiting)
	require.NotNil(t, outcome.TaskID)
	assert.Equal(t, 0, outcome.State.Index, "index holds until the node arrives")

	// Further choices are rejected while the transition is in flight.
	_, err = svc.ApplyChoice(ctx, view.ID, 1)
	assert.ErrorIs(t, err, game.ErrAwaitingNode)

	close(provider.release)

	require.Eventually(t, func() bool {
		v, err := svc.GetSession(view.ID)
		return err == nil && !v.State.Awaiting && v.State.Index == 1
	}, 2*time.Second, 10*time.Millisecond)

	after, err := svc.GetSession(view.ID)
	require.NoError(t, err)
	require.NotNil(t, after.State.Node)
	assert.Equal(t, "examine_mirror", after.State.Node.ID)
}

func TestDeferredResolutionDiscardedAfterReset(t *testing.T) {
	provider := &blockingProvider{release: make(chan struct{})}
	factory := func(p domain.Protagonist) storygraph.Provider {
		provider.inner = storygraph.NewSeedProvider(p, 1)
		return provider
	}
	svc, _ := newService(t, factory)
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	outcome, err := svc.ApplyChoice(ctx, view.ID, 1)
	require.NoError(t, err)
	require.True(t, outcome.Awaiting)

	// Reset while the resolution is still in flight.
	reset, err := svc.ResetSession(ctx, view.ID)
	require.NoError(t, err)
	assert.Nil(t, reset.State.Node)
	assert.False(t, reset.State.Awaiting)

	close(provider.release)

	// The late result must never surface.
	assert.Never(t, func() bool {
		v, err := svc.GetSession(view.ID)
		return err == nil && v.State.Node != nil
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestResetClearsEverything(t *testing.T) {
	svc, _ := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	_, err = svc.ApplyChoice(ctx, view.ID, 1)
	require.NoError(t, err)

	reset, err := svc.ResetSession(ctx, view.ID)
	require.NoError(t, err)
	assert.Nil(t, reset.State.Node)
	assert.Empty(t, reset.State.History)
	assert.Equal(t, domain.Protagonist{}, reset.Protagonist, "reset wipes the protagonist, not just the nodes")

	// The cleared protagonist sticks on subsequent reads too.
	after, err := svc.GetSession(view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Protagonist{}, after.Protagonist)

	// Choice input on the blank session is rejected, not resolved against
	// leftover state.
	_, err = svc.ApplyChoice(ctx, view.ID, 1)
	assert.ErrorIs(t, err, game.ErrInvalidChoice)
}

func TestRestartStartsANewGame(t *testing.T) {
	svc, _ := newService(t, seedFactory())
	ctx := context.Background()

	view, err := svc.CreateSession(ctx, kira())
	require.NoError(t, err)

	_, err = svc.ApplyChoice(ctx, view.ID, 1)
	require.NoError(t, err)

	_, err = svc.ResetSession(ctx, view.ID)
	require.NoError(t, err)

	next := domain.Protagonist{Name: "Bram", Gender: "male", Age: 52, StartingSituation: "a retired soldier"}
	restarted, err := svc.RestartSession(ctx, view.ID, next)
	require.NoError(t, err)
	require.NotNil(t, restarted.State.Node)
	assert.Equal(t, "start", restarted.State.Node.ID)
	assert.Empty(t, restarted.State.History)
	assert.Equal(t, "Bram", restarted.Protagonist.Name)

	t.Run("restart validates the new protagonist", func(t *testing.T) {
		_, err := svc.RestartSession(ctx, view.ID, domain.Protagonist{Name: "Kid", Age: 10})
		assert.ErrorIs(t, err, domain.ErrInvalidProtagonist)
	})
}
