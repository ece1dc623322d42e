// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

type CampaignType string

const (
	CampaignDefault  CampaignType = "default"
	CampaignFiltered CampaignType = "filtered"
)

// TargetFilter is the recipient predicate of a filtered campaign. Zero-value
// fields do not constrain the match.
type TargetFilter struct {
	Languages      []string   `json:"languages,omitempty"`
	ReferredAfter  *time.Time `json:"referred_after,omitempty"`
	ReferredBefore *time.Time `json:"referred_before,omitempty"`
}

// Matches reports whether a referral satisfies the filter.
func (f *TargetFilter) Matches(r *Referral) bool {
	if f == nil {
		return true
	}
	if len(f.Languages) > 0 {
		found := false
		for _, l := range f.Languages {
			if l == r.Language {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ReferredAfter != nil && r.ReferredAt.Before(*f.ReferredAfter) {
		return false
	}
	if f.ReferredBefore != nil && r.ReferredAt.After(*f.ReferredBefore) {
		return false
	}
	return true
}

// DayTemplates maps sequence day (1..7) to a message template body.
type DayTemplates map[int]string

type Campaign struct {
	ID                 string         `db:"id" json:"id"`
	SenderID           string         `db:"sender_id" json:"sender_id"`
	Name               string         `db:"name" json:"name"`
	Type               CampaignType   `db:"type" json:"type"`
	Status             CampaignStatus `db:"status" json:"status"`
	Filter             *TargetFilter  `db:"filter" json:"filter,omitempty"`
	DayTemplates       DayTemplates   `db:"day_templates" json:"day_templates,omitempty"`
	MaxMessagesPerDay  *int           `db:"max_messages_per_day" json:"max_messages_per_day,omitempty"`
	MaxTargets         int            `db:"max_targets" json:"max_targets"`
	ScheduledStartDate *time.Time     `db:"scheduled_start_date" json:"scheduled_start_date,omitempty"`
	RunAfterCampaignID *string        `db:"run_after_campaign_id" json:"run_after_campaign_id,omitempty"`

	// Counters are updated incrementally, never recomputed from scratch.
	TargetsEnrolled   int `db:"targets_enrolled" json:"targets_enrolled"`
	MessagesSent      int `db:"messages_sent" json:"messages_sent"`
	MessagesDelivered int `db:"messages_delivered" json:"messages_delivered"`
	MessagesFailed    int `db:"messages_failed" json:"messages_failed"`
	TargetsCompleted  int `db:"targets_completed" json:"targets_completed"`
	TargetsExited     int `db:"targets_exited" json:"targets_exited"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Terminal reports whether the campaign can no longer change state.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignCancelled
}

// CounterDelta is applied atomically to a campaign's counter columns.
type CounterDelta struct {
	TargetsEnrolled   int
	MessagesSent      int
	MessagesDelivered int
	MessagesFailed    int
	TargetsCompleted  int
	TargetsExited     int
}
