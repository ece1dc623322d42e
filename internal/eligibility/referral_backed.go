package eligibility

import (
	"context"
	"fmt"

	"github.com/unclebandit/followup-backend/internal/repository"
)

// ReferralBacked answers paid-status and address lookups from the local
// referral records. It stands in for the billing system's recipient API
// until that integration lands.
type ReferralBacked struct {
	Referrals repository.ReferralRepositoryInterface
}

func (e *ReferralBacked) HasPaid(ctx context.Context, senderID, recipientID string) (bool, error) {
	ref, err := e.Referrals.GetByRecipient(senderID, recipientID)
	if err != nil || ref == nil {
		return false, err
	}
	return ref.Paid, nil
}

func (e *ReferralBacked) Resolve(ctx context.Context, senderID, recipientID string) (*Recipient, error) {
	ref, err := e.Referrals.GetByRecipient(senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("no referral record for recipient %s", recipientID)
	}
	return &Recipient{Address: ref.Phone, Name: ref.RecipientName, Language: ref.Language}, nil
}

// AllowAll is the development SubscriptionChecker: every sender is entitled.
type AllowAll struct{}

func (AllowAll) Entitled(ctx context.Context, senderID string) (bool, error) {
	return true, nil
}
