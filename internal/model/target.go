// internal/model/target.go
package model

import "time"

type TargetStatus string

const (
	TargetActive    TargetStatus = "active"
	TargetCompleted TargetStatus = "completed"
	TargetPaused    TargetStatus = "paused"
)

type ExitReason string

const (
	ExitPaid             ExitReason = "paid"
	ExitCompleted7Days   ExitReason = "completed_7days"
	ExitManual           ExitReason = "manual"
	ExitReferrerInactive ExitReason = "referrer_inactive"
)

// FinalDay is the last day of the follow-up sequence. A successful send on
// this day completes the Target.
const FinalDay = 7

// Target tracks one recipient's progress through the day-1..7 follow-up
// sequence. CampaignID is nil when the Target belongs to the sender's
// implicit default campaign.
type Target struct {
	ID                string       `db:"id" json:"id"`
	RecipientID       string       `db:"recipient_id" json:"recipient_id"`
	SenderID          string       `db:"sender_id" json:"sender_id"`
	CampaignID        *string      `db:"campaign_id" json:"campaign_id,omitempty"`
	CurrentDay        int          `db:"current_day" json:"current_day"`
	NextMessageDue    time.Time    `db:"next_message_due" json:"next_message_due"`
	LastMessageSentAt *time.Time   `db:"last_message_sent_at" json:"last_message_sent_at,omitempty"`
	Language          string       `db:"language" json:"language"`
	Status            TargetStatus `db:"status" json:"status"`
	ExitedAt          *time.Time   `db:"exited_at" json:"exited_at,omitempty"`
	ExitReason        *ExitReason  `db:"exit_reason" json:"exit_reason,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// Scope returns the enrollment scope this Target belongs to.
func (t *Target) Scope() Scope {
	if t.CampaignID != nil {
		return FilteredScope(t.SenderID, *t.CampaignID)
	}
	return DefaultScope(t.SenderID)
}

type AttemptOutcome string

const (
	OutcomeDelivered AttemptOutcome = "delivered"
	OutcomeFailed    AttemptOutcome = "failed"
)

// DeliveryAttempt is one entry in a Target's delivery history.
type DeliveryAttempt struct {
	ID          int64          `db:"id" json:"id"`
	TargetID    string         `db:"target_id" json:"target_id"`
	Day         int            `db:"day" json:"day"`
	SentAt      time.Time      `db:"sent_at" json:"sent_at"`
	Outcome     AttemptOutcome `db:"outcome" json:"outcome"`
	ErrorDetail string         `db:"error_detail" json:"error_detail,omitempty"`
}

// Scope identifies the campaign scope a Target is enrolled under: either the
// sender's implicit default campaign or an explicit filtered campaign. The
// default campaign has no stored row, so stores and schedulers work against
// this tagged value instead of special-casing "no campaign".
type Scope struct {
	SenderID   string
	CampaignID *string
}

func DefaultScope(senderID string) Scope {
	return Scope{SenderID: senderID}
}

func FilteredScope(senderID, campaignID string) Scope {
	return Scope{SenderID: senderID, CampaignID: &campaignID}
}

func (s Scope) IsDefault() bool { return s.CampaignID == nil }
