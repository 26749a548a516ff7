package agents

// Run item event names.
const (
	EventMessageOutputCreated = "message_output_created"
	EventToolCalled           = "tool_called"
	EventToolOutput           = "tool_output"
	EventHandoffRequested     = "handoff_requested"
	EventHandoffOccurred      = "handoff_occurred"
	EventReasoningCreated     = "reasoning_item_created"
)

// Event is emitted while a run progresses.
type Event interface {
	event()
}

// RawDeltaEvent carries a text delta straight from the model.
type RawDeltaEvent struct {
	Agent string
	Delta string
}

// RunItemEvent is emitted when an item is added to the run.
type RunItemEvent struct {
	Name string
	Item Item
}

// AgentUpdatedEvent is emitted when a run starts and after every handoff.
type AgentUpdatedEvent struct {
	Agent string
}

func (RawDeltaEvent) event()     {}
func (RunItemEvent) event()      {}
func (AgentUpdatedEvent) event() {}

// Sink receives run events. Implementations must not block for long.
type Sink func(Event)

func (s Sink) emit(e Event) {
	if s != nil {
		s(e)
	}
}
