package repository

// MessageBus abstracts the event bus. Services publish ledger and lifecycle
// events through it; the NATS transport provides the production implementation.
type MessageBus interface {
	Publish(topic string, data []byte) error
}
