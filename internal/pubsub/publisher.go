package pubsub

import "context"

// Publisher is where mutations send change events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type localPublisher struct{ bus *Bus }

// Local publishes straight onto bus, synchronously with the caller.
func Local(bus *Bus) Publisher { return localPublisher{bus: bus} }

func (p localPublisher) Publish(_ context.Context, topic string, payload any) error {
	p.bus.Publish(topic, payload)
	return nil
}
