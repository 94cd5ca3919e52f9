package notification

import "context"

// Message is a rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Provider delivers rendered messages. Delivery guarantees are out of
// scope; callers treat sends as best effort.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}
