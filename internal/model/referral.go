// internal/model/referral.go
package model

import "time"

// Referral is the triggering business event: a prospect referred by a sender
// who has not paid yet. Referrals are the candidate pool the enrollment job
// draws from.
type Referral struct {
	ID            string     `db:"id" json:"id"`
	SenderID      string     `db:"sender_id" json:"sender_id"`
	RecipientID   string     `db:"recipient_id" json:"recipient_id"`
	RecipientName string     `db:"recipient_name" json:"recipient_name"`
	Phone         string     `db:"phone" json:"phone"`
	Language      string     `db:"language" json:"language"`
	ReferredAt    time.Time  `db:"referred_at" json:"referred_at"`
	Paid          bool       `db:"paid" json:"paid"`
	PaidAt        *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}
