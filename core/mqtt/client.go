package mqtt

// Handler receives the topic and payload of an incoming message.
type Handler func(topic string, payload []byte)

// Client is the broker surface used by the parameter subscriber and the
// state publisher.
type Client interface {
	// Publish sends payload to topic. Retained messages are kept by the
	// broker for late subscribers.
	Publish(topic string, payload []byte, retained bool) error

	// Subscribe registers handler for topic. Subscriptions survive
	// reconnects.
	Subscribe(topic string, handler Handler) error

	Disconnect()
}
