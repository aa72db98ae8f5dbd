package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oraculus-server/internal/domain"
	"oraculus-server/internal/game"
	"oraculus-server/internal/repository"
	"oraculus-server/internal/storygraph"
	"oraculus-server/pkg/taskmanager"
)

// ErrSessionNotFound is returned for session IDs the service does not know.
// It aliases the repository error so callers match either layer with errors.Is.
var ErrSessionNotFound = repository.ErrSessionNotFound

// SessionStore is the persistence surface the game service needs. The full
// repository satisfies it; tests plug in an in-memory fake.
type SessionStore interface {
	Create(ctx context.Context, rec *repository.SessionRecord) error
	SaveState(ctx context.Context, id uuid.UUID, state []byte) error
	AppendFeedback(ctx context.Context, ev repository.FeedbackEvent) error
}

// Notifier pushes out-of-band updates to a session's websocket clients.
type Notifier interface {
	SendToSession(sessionID string, messageType string, payload interface{})
}

// Session is one player's live game: the engine holding navigation state and
// the provider that feeds it nodes. All mutation goes through mu.
type Session struct {
	ID          uuid.UUID
	Protagonist domain.Protagonist
	Engine      *game.Engine
	Provider    storygraph.Provider

	mu sync.Mutex
}

// SessionView is the read model handed to the delivery layer.
type SessionView struct {
	ID          uuid.UUID          `json:"id"`
	Protagonist domain.Protagonist `json:"protagonist"`
	State       game.State         `json:"state"`
}

// ChoiceOutcome describes what a choice (or gesture/key) did to the session.
// Resolved is false only for inputs that did not map to a choice at all.
// Awaiting means the transition was accepted but the next node is still being
// produced in the background.
type ChoiceOutcome struct {
	Resolved bool       `json:"resolved"`
	ChoiceID int        `json:"choice_id,omitempty"`
	Awaiting bool       `json:"awaiting"`
	TaskID   *uuid.UUID `json:"task_id,omitempty"`
	State    game.State `json:"state"`
}

// GameService owns the live session table and orchestrates engines, story
// providers, background resolution and persistence.
type GameService struct {
	store     SessionStore
	providers storygraph.Factory
	tasks     taskmanager.ITaskManager
	notifier  Notifier
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewGameService(store SessionStore, providers storygraph.Factory, tasks taskmanager.ITaskManager, logger *zap.Logger) *GameService {
	return &GameService{
		store:     store,
		providers: providers,
		tasks:     tasks,
		logger:    logger.Named("GameService"),
		sessions:  make(map[uuid.UUID]*Session),
	}
}

// SetNotifier wires the websocket manager in after construction; the manager
// needs the HTTP layer up first, so this is a late bind.
func (s *GameService) SetNotifier(n Notifier) {
	s.notifier = n
}

// CreateSession validates the protagonist, builds a provider for them and
// seeds a fresh engine with the provider's opening nodes.
func (s *GameService) CreateSession(ctx context.Context, p domain.Protagonist) (*SessionView, error) {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	provider := s.providers(p)
	initial, err := provider.InitialNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial nodes: %w", err)
	}
	if len(initial) == 0 {
		return nil, errors.New("provider returned no initial nodes")
	}

	sess := &Session{
		ID:          uuid.New(),
		Protagonist: p,
		Engine:      game.NewEngine(initial),
		Provider:    provider,
	}

	state := sess.Engine.Snapshot()
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	protagonistJSON, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal protagonist: %w", err)
	}
	rec := &repository.SessionRecord{
		ID:          sess.ID,
		Protagonist: protagonistJSON,
		State:       stateJSON,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("protagonist", p.Name))

	return &SessionView{ID: sess.ID, Protagonist: p, State: state}, nil
}

// GetSession returns the current view of a live session.
func (s *GameService) GetSession(id uuid.UUID) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return &SessionView{ID: sess.ID, Protagonist: sess.Protagonist, State: sess.Engine.Snapshot()}, nil
}

// ApplyGesture maps a swipe onto the current node's choices. Gestures below
// the recognition thresholds come back with Resolved=false and the session
// untouched; that is a normal outcome, not an error.
func (s *GameService) ApplyGesture(ctx context.Context, id uuid.UUID, g game.Gesture) (*ChoiceOutcome, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	node, ok := sess.Engine.CurrentNode()
	if !ok {
		return nil, game.ErrInvalidChoice
	}
	choiceID, ok := game.ResolveGesture(node, g)
	if !ok {
		return &ChoiceOutcome{Resolved: false, State: sess.Engine.Snapshot()}, nil
	}
	return s.applyChoiceLocked(ctx, sess, node, choiceID)
}

// ApplyKey maps a keyboard event onto the current node's choices. Unrecognized
// keys behave like sub-threshold gestures: Resolved=false, no state change.
func (s *GameService) ApplyKey(ctx context.Context, id uuid.UUID, key string) (*ChoiceOutcome, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	node, ok := sess.Engine.CurrentNode()
	if !ok {
		return nil, game.ErrInvalidChoice
	}
	choiceID, ok := game.ResolveKey(node, key)
	if !ok {
		return &ChoiceOutcome{Resolved: false, State: sess.Engine.Snapshot()}, nil
	}
	return s.applyChoiceLocked(ctx, sess, node, choiceID)
}

// ApplyChoice applies an explicit choice ID, as selected by tap or click.
func (s *GameService) ApplyChoice(ctx context.Context, id uuid.UUID, choiceID int) (*ChoiceOutcome, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	node, ok := sess.Engine.CurrentNode()
	if !ok {
		return nil, game.ErrInvalidChoice
	}
	return s.applyChoiceLocked(ctx, sess, node, choiceID)
}

// ResetSession wipes the session back to a blank slate: nodes, history,
// index and protagonist are all cleared, there is no partial reset. Any
// in-flight background resolution becomes stale and its result is discarded
// when it lands.
func (s *GameService) ResetSession(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	sess.Engine.Reset()
	sess.Protagonist = domain.Protagonist{}
	sess.Provider = nil
	state := sess.Engine.Snapshot()
	sess.mu.Unlock()

	s.persistState(ctx, sess.ID, state)
	s.logger.Info("session reset", zap.String("session_id", sess.ID.String()))
	return &SessionView{ID: sess.ID, State: state}, nil
}

// RestartSession starts a new game on an existing session id. Reset cleared
// the protagonist, so restart takes a fresh one and builds a new provider
// for it.
func (s *GameService) RestartSession(ctx context.Context, id uuid.UUID, p domain.Protagonist) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	provider := s.providers(p)
	initial, err := provider.InitialNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial nodes: %w", err)
	}
	sess.Protagonist = p
	sess.Provider = provider
	sess.Engine.Restart(initial)
	state := sess.Engine.Snapshot()

	s.persistState(ctx, sess.ID, state)
	s.logger.Info("session restarted", zap.String("session_id", sess.ID.String()))
	return &SessionView{ID: sess.ID, Protagonist: p, State: state}, nil
}

// applyChoiceLocked advances the engine by choiceID. Caller holds sess.mu.
// node is the current node as observed by the caller under the same lock.
func (s *GameService) applyChoiceLocked(ctx context.Context, sess *Session, node domain.StoryNode, choiceID int) (*ChoiceOutcome, error) {
	advanced, epoch, err := sess.Engine.ApplyChoice(choiceID)
	if err != nil {
		return nil, err
	}

	choice, _ := node.ChoiceByID(choiceID)
	s.recordFeedback(ctx, sess.ID, node.ID, choice)

	if advanced {
		state := sess.Engine.Snapshot()
		s.persistState(ctx, sess.ID, state)
		return &ChoiceOutcome{Resolved: true, ChoiceID: choiceID, State: state}, nil
	}

	if !sess.Provider.Deferred() {
		next, rerr := sess.Provider.ResolveTransition(ctx, node.ID, choiceID)
		if rerr != nil {
			s.logger.Warn("transition resolution failed, using continuation",
				zap.String("session_id", sess.ID.String()),
				zap.String("node_id", node.ID),
				zap.Error(rerr))
			next = storygraph.ContinuationNode(sess.Protagonist, node.ID, choiceID)
		}
		if cerr := sess.Engine.CompleteTransition(epoch, next); cerr != nil {
			return nil, cerr
		}
		state := sess.Engine.Snapshot()
		s.persistState(ctx, sess.ID, state)
		return &ChoiceOutcome{Resolved: true, ChoiceID: choiceID, State: state}, nil
	}

	taskID, terr := s.tasks.SubmitTaskWithOwner(ctx, s.resolveTask(sess, sess.Provider, sess.Protagonist, node.ID, choiceID, epoch), sess.ID.String())
	if terr != nil {
		// Task pool exhausted: resolve inline with the fallback node rather
		// than leaving the session stuck in the awaiting state.
		s.logger.Warn("task submission failed, resolving inline",
			zap.String("session_id", sess.ID.String()),
			zap.Error(terr))
		next := storygraph.ContinuationNode(sess.Protagonist, node.ID, choiceID)
		if cerr := sess.Engine.CompleteTransition(epoch, next); cerr != nil {
			return nil, cerr
		}
		state := sess.Engine.Snapshot()
		s.persistState(ctx, sess.ID, state)
		return &ChoiceOutcome{Resolved: true, ChoiceID: choiceID, State: state}, nil
	}

	return &ChoiceOutcome{
		Resolved: true,
		ChoiceID: choiceID,
		Awaiting: true,
		TaskID:   &taskID,
		State:    sess.Engine.Snapshot(),
	}, nil
}

// resolveTask builds the deferred resolution closure. The provider and
// protagonist are captured at submission time because a reset clears both on
// the session; the epoch guards against the session having been reset or
// restarted while the provider worked: stale results are dropped on the
// floor.
func (s *GameService) resolveTask(sess *Session, provider storygraph.Provider, p domain.Protagonist, nodeID string, choiceID int, epoch uint64) taskmanager.TaskFunc {
	return func(ctx context.Context) (interface{}, error) {
		next, err := provider.ResolveTransition(ctx, nodeID, choiceID)
		if err != nil {
			s.logger.Warn("deferred resolution failed, using continuation",
				zap.String("session_id", sess.ID.String()),
				zap.String("node_id", nodeID),
				zap.Error(err))
			next = storygraph.ContinuationNode(p, nodeID, choiceID)
		}

		sess.mu.Lock()
		cerr := sess.Engine.CompleteTransition(epoch, next)
		state := sess.Engine.Snapshot()
		sess.mu.Unlock()

		if errors.Is(cerr, game.ErrStaleResolution) {
			s.logger.Info("discarding stale resolution",
				zap.String("session_id", sess.ID.String()),
				zap.Uint64("epoch", epoch))
			return nil, nil
		}
		if cerr != nil {
			return nil, cerr
		}

		s.persistState(ctx, sess.ID, state)
		if s.notifier != nil {
			s.notifier.SendToSession(sess.ID.String(), "node_ready", state)
		}
		return state, nil
	}
}

func (s *GameService) session(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// persistState writes the engine snapshot through to storage. Persistence
// failures are logged, not surfaced: gameplay state lives in memory and must
// not stall on the database.
func (s *GameService) persistState(ctx context.Context, id uuid.UUID, state game.State) {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("marshal state", zap.String("session_id", id.String()), zap.Error(err))
		return
	}
	if err := s.store.SaveState(ctx, id, stateJSON); err != nil {
		s.logger.Error("save state", zap.String("session_id", id.String()), zap.Error(err))
	}
}

// recordFeedback appends the accepted choice to the feedback log, best effort.
func (s *GameService) recordFeedback(ctx context.Context, sessionID uuid.UUID, nodeID string, choice domain.Choice) {
	ev := repository.FeedbackEvent{
		SessionID:  sessionID,
		NodeID:     nodeID,
		ChoiceID:   choice.ID,
		ChoiceText: choice.Text,
	}
	if err := s.store.AppendFeedback(ctx, ev); err != nil {
		s.logger.Warn("append feedback", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}
