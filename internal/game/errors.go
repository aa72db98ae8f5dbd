package game

import "errors"

// Errors returned by the navigation engine. All of them are handled inside
// the engine/service boundary and mapped to no-op UI responses; none should
// crash the presentation layer.
var (
	// ErrInvalidChoice means the choice id is not present (or not available)
	// on the current node at apply time. State is left unchanged.
	ErrInvalidChoice = errors.New("choice is not valid for the current node")

	// ErrAwaitingNode means a transition is still being resolved by the
	// provider; further choice input on the same node is rejected, not queued.
	ErrAwaitingNode = errors.New("a node transition is already in flight")

	// ErrStaleResolution means a deferred transition result arrived after a
	// reset bumped the session epoch. The result must be discarded.
	ErrStaleResolution = errors.New("transition result is stale")
)
