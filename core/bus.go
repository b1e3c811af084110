package core

// Bus is the process-wide publish/subscribe channel for lifecycle events.
// It is multi-producer / multi-consumer and makes no ordering promises across
// producers, so every delegation event carries a correlation id and consumers
// index strictly by that id, never by arrival order.
//
// A single Bus instance must be shared by the coordinator and every graph
// executor in a process: a component that constructs an isolated bus silently
// breaks delegation suspend/resume, because terminal events are published on
// a channel nobody relevant is listening to. Cross-process delivery is out of
// scope; see the package documentation of bus for the open design question.
type Bus interface {
	// Publish delivers the event to all current subscribers of its topic.
	// Publishing to a closed bus is a no-op.
	Publish(ev Event)
	// Subscribe registers interest in one or more topics. The returned cancel
	// function must be called to release the subscription; after cancel (or
	// bus Close) the channel is closed.
	Subscribe(topics ...Topic) (<-chan Event, func())
	// Close tears the bus down, closing all subscriber channels.
	Close()
}
