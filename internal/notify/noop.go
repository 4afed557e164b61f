package notify

import "context"

// NoopPublisher swallows events. Used when no topic is configured.
type NoopPublisher struct{}

// NewNoop constructs a NoopPublisher.
func NewNoop() *NoopPublisher {
	return &NoopPublisher{}
}

// Publish discards the payload.
func (*NoopPublisher) Publish(context.Context, any) (string, error) {
	return "", nil
}
