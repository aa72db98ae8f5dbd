package game

import (
	"oraculus-server/internal/domain"
)

// Swipe classification thresholds. A release whose horizontal displacement or
// instantaneous velocity exceeds these values counts as a committed swipe;
// anything below lets the card spring back with no choice made.
const (
	SwipeOffsetThreshold   = 100.0
	SwipeVelocityThreshold = 500.0
)

// Key codes forwarded raw by the presentation layer.
const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
)

// Direction is the classified outcome of a drag gesture.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	default:
		return "none"
	}
}

// Gesture carries the raw parameters of a pointer drag at release time.
// Positive X points right.
type Gesture struct {
	OffsetX   float64 `json:"offset_x"`
	VelocityX float64 `json:"velocity_x"`
}

// Direction classifies the gesture against the swipe thresholds.
func (g Gesture) Direction() Direction {
	if g.OffsetX > SwipeOffsetThreshold || g.VelocityX > SwipeVelocityThreshold {
		return DirectionRight
	}
	if g.OffsetX < -SwipeOffsetThreshold || g.VelocityX < -SwipeVelocityThreshold {
		return DirectionLeft
	}
	return DirectionNone
}

// ResolveGesture maps a drag gesture on a node to a choice id. The second
// return value is false when the gesture is below threshold or the node has
// no available choice; no event is emitted in that case.
func ResolveGesture(node domain.StoryNode, g Gesture) (int, bool) {
	return ResolveDirection(node, g.Direction())
}

// ResolveDirection maps a swipe direction to a choice id over the node's
// available choices: right selects the first available choice in node order,
// left the second if one exists, otherwise the first (and only) one.
func ResolveDirection(node domain.StoryNode, dir Direction) (int, bool) {
	if dir == DirectionNone {
		return 0, false
	}
	avail := node.AvailableChoices()
	if len(avail) == 0 {
		return 0, false
	}
	if dir == DirectionLeft && len(avail) >= 2 {
		return avail[1].ID, true
	}
	return avail[0].ID, true
}

// ResolveKey maps a discrete key press to a choice id. Digit keys 1..N select
// the Nth available choice directly; arrow keys apply the same mapping as the
// corresponding swipe direction. Any other key, or a digit past the available
// count, resolves to nothing.
func ResolveKey(node domain.StoryNode, key string) (int, bool) {
	switch key {
	case KeyArrowLeft:
		return ResolveDirection(node, DirectionLeft)
	case KeyArrowRight:
		return ResolveDirection(node, DirectionRight)
	}

	if len(key) == 1 && key[0] >= '1' && key[0] <= '9' {
		n := int(key[0] - '0')
		avail := node.AvailableChoices()
		if n <= len(avail) {
			return avail[n-1].ID, true
		}
	}
	return 0, false
}
