package events

import "github.com/parley-ai/parley/internal/core"

var _ core.Notifier = (*BusNotifier)(nil)

// BusNotifier bridges scheduler progress callbacks onto the event bus. One
// instance is created per turn; the turn id is captured from the scheduler's
// TurnStarted callback, which always precedes step dispatch. The final turn
// result goes out as a priority event.
type BusNotifier struct {
	bus       *EventBus
	sessionID string
	turnID    string
}

// NewBusNotifier creates a notifier publishing to bus for one turn.
func NewBusNotifier(bus *EventBus, sessionID string) *BusNotifier {
	return &BusNotifier{bus: bus, sessionID: sessionID}
}

func (n *BusNotifier) TurnStarted(sessionID, turnID string, groups, steps int) {
	n.turnID = turnID
	n.bus.Publish(NewTurnStartedEvent(sessionID, turnID, groups, steps))
}

func (n *BusNotifier) StepStarted(stepID core.StepID, kind core.StepKind) {
	n.bus.Publish(NewStepStartedEvent(n.sessionID, n.turnID, stepID, kind))
}

func (n *BusNotifier) StepFinished(sum core.StepSummary) {
	n.bus.Publish(NewStepFinishedEvent(n.sessionID, n.turnID, sum))
}

func (n *BusNotifier) TurnFinished(res core.TurnResult) {
	n.bus.PublishPriority(NewTurnFinishedEvent(n.sessionID, res))
}
