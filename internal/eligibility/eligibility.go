// Package eligibility holds the external collaborator contracts the
// schedulers consult: subscription entitlement, paid status, and recipient
// address lookup. Billing itself is out of scope; only the answers matter
// here.
package eligibility

import "context"

// SubscriptionChecker answers whether a sender's subscription product
// entitles them to the follow-up feature.
type SubscriptionChecker interface {
	Entitled(ctx context.Context, senderID string) (bool, error)
}

// PaymentChecker answers whether a recipient already has qualifying paid
// status, which excludes them from enrollment.
type PaymentChecker interface {
	HasPaid(ctx context.Context, senderID, recipientID string) (bool, error)
}

// Recipient is the delivery-time view of a recipient: where to send and what
// to substitute into templates.
type Recipient struct {
	Address  string
	Name     string
	Language string
}

// AddressResolver maps a recipient id to its channel address and render
// fields.
type AddressResolver interface {
	Resolve(ctx context.Context, senderID, recipientID string) (*Recipient, error)
}
