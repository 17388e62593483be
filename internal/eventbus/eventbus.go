package eventbus

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation using fan-out channels.
type Bus struct {
	*TypedBus[Event]
}

// New creates a new Bus with DefaultBuffer slots per subscriber.
func New() *Bus { return &Bus{NewTyped[Event]()} }

// NewBuffered creates a Bus giving each subscriber size slots.
func NewBuffered(size int) *Bus { return &Bus{NewTypedBuffered[Event](size)} }

var _ EventBus = (*Bus)(nil)
