// Package session defines the messaging-channel session contract. The real
// transport (QR pairing, session persistence, network send) lives outside
// this service; the dispatch job only depends on these interfaces.
package session

import "context"

// Session is one open messaging session bound to a sender.
type Session interface {
	// Send delivers one message to the recipient address. Media entries
	// are opaque URLs handled by the transport.
	Send(ctx context.Context, recipientAddress, body string, media []string) error
}

// Provider hands out at most one logical session per sender. A nil session
// with a nil error is treated the same as an init failure.
type Provider interface {
	InitSession(ctx context.Context, senderID string) (Session, error)
	DestroySession(senderID string)
}
