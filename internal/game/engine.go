package game

import (
	"oraculus-server/internal/domain"
)

// LookaheadSize is the number of upcoming nodes exposed for stacked-card
// rendering.
const LookaheadSize = 3

// Engine owns the navigation state of a single play session: an append-only
// sequence of story nodes, the current position in it, and the history of
// applied choices. It is a pure state machine with no locking of its own;
// callers serialize access per session.
type Engine struct {
	nodes    []domain.StoryNode
	current  int
	history  []domain.HistoryEntry
	epoch    uint64
	awaiting bool
}

// State is a read-only snapshot of the engine for the presentation layer.
type State struct {
	Index     int                   `json:"index"`
	Node      *domain.StoryNode     `json:"node,omitempty"`
	Lookahead []domain.StoryNode    `json:"lookahead"`
	History   []domain.HistoryEntry `json:"history"`
	Awaiting  bool                  `json:"awaiting"`
}

// NewEngine creates an engine positioned at the first of the given nodes.
func NewEngine(initial []domain.StoryNode) *Engine {
	nodes := make([]domain.StoryNode, len(initial))
	copy(nodes, initial)
	return &Engine{nodes: nodes}
}

// CurrentNode returns the node at the current index. The second return value
// is false when the node sequence is empty (after Reset, before a new game).
func (e *Engine) CurrentNode() (domain.StoryNode, bool) {
	if e.current >= len(e.nodes) {
		return domain.StoryNode{}, false
	}
	return e.nodes[e.current], true
}

// Index returns the current position in the node sequence.
func (e *Engine) Index() int { return e.current }

// Epoch returns the session generation counter. It changes only on Reset.
func (e *Engine) Epoch() uint64 { return e.epoch }

// Awaiting reports whether a transition is in flight.
func (e *Engine) Awaiting() bool { return e.awaiting }

// History returns a copy of the (node text, choice text) log in
// chronological order.
func (e *Engine) History() []domain.HistoryEntry {
	h := make([]domain.HistoryEntry, len(e.history))
	copy(h, e.history)
	return h
}

// Lookahead returns up to LookaheadSize upcoming nodes starting at the
// current index, front to back. Near the end of the sequence it returns
// fewer nodes, never placeholders.
func (e *Engine) Lookahead() []domain.StoryNode {
	if e.current >= len(e.nodes) {
		return nil
	}
	end := e.current + LookaheadSize
	if end > len(e.nodes) {
		end = len(e.nodes)
	}
	window := make([]domain.StoryNode, end-e.current)
	copy(window, e.nodes[e.current:end])
	return window
}

// Snapshot builds a State for rendering.
func (e *Engine) Snapshot() State {
	s := State{
		Index:     e.current,
		Lookahead: e.Lookahead(),
		History:   e.History(),
		Awaiting:  e.awaiting,
	}
	if node, ok := e.CurrentNode(); ok {
		s.Node = &node
	}
	return s
}

// ApplyChoice validates choiceID against the current node and appends the
// (node text, choice text) pair to history. When the next node is already
// present in the sequence the index advances immediately and advanced is
// true. Otherwise the engine parks in the awaiting state and the caller must
// resolve the transition with the provider and hand the result to
// CompleteTransition together with the returned epoch.
//
// Invalid ids, unavailable choices, terminal nodes and calls while awaiting
// leave the state untouched.
func (e *Engine) ApplyChoice(choiceID int) (advanced bool, epoch uint64, err error) {
	if e.awaiting {
		return false, 0, ErrAwaitingNode
	}
	node, ok := e.CurrentNode()
	if !ok || node.Terminal {
		return false, 0, ErrInvalidChoice
	}
	choice, ok := node.ChoiceByID(choiceID)
	if !ok || !choice.Available {
		return false, 0, ErrInvalidChoice
	}

	e.history = append(e.history, domain.HistoryEntry{
		NodeText:   node.Text,
		ChoiceText: choice.Text,
	})

	if e.current+1 < len(e.nodes) {
		e.current++
		return true, e.epoch, nil
	}

	e.awaiting = true
	return false, e.epoch, nil
}

// CompleteTransition appends the resolved node and advances the index,
// provided the epoch still matches the session generation the transition was
// started in. Results from before a Reset are rejected with
// ErrStaleResolution and must be discarded by the caller.
func (e *Engine) CompleteTransition(epoch uint64, node domain.StoryNode) error {
	if epoch != e.epoch || !e.awaiting {
		return ErrStaleResolution
	}
	e.nodes = append(e.nodes, node)
	e.current++
	e.awaiting = false
	return nil
}

// Reset clears the node sequence, history and index and bumps the epoch so
// that any outstanding transition result becomes stale. There is no partial
// reset.
func (e *Engine) Reset() {
	e.nodes = nil
	e.current = 0
	e.history = nil
	e.awaiting = false
	e.epoch++
}

// Restart seeds the engine with a fresh initial sequence after a Reset,
// keeping the bumped epoch.
func (e *Engine) Restart(initial []domain.StoryNode) {
	nodes := make([]domain.StoryNode, len(initial))
	copy(nodes, initial)
	e.nodes = nodes
	e.current = 0
	e.history = nil
	e.awaiting = false
}
