// internal/model/config.go
package model

import "time"

type SessionStatus string

const (
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionExpired      SessionStatus = "expired"
)

// SenderConfig holds one sender's operational switches and quotas.
type SenderConfig struct {
	SenderID                   string        `db:"sender_id" json:"sender_id"`
	Enabled                    bool          `db:"enabled" json:"enabled"`
	EnrollmentPaused           bool          `db:"enrollment_paused" json:"enrollment_paused"`
	SendingPaused              bool          `db:"sending_paused" json:"sending_paused"`
	DefaultCampaignPaused      bool          `db:"default_campaign_paused" json:"default_campaign_paused"`
	AllowSimultaneousCampaigns bool          `db:"allow_simultaneous_campaigns" json:"allow_simultaneous_campaigns"`
	MessagesSentToday          int           `db:"messages_sent_today" json:"messages_sent_today"`
	LastResetDate              time.Time     `db:"last_reset_date" json:"last_reset_date"`
	MaxMessagesPerDay          int           `db:"max_messages_per_day" json:"max_messages_per_day"`
	MaxTargetsPerCampaign      int           `db:"max_targets_per_campaign" json:"max_targets_per_campaign"`
	SessionStatus              SessionStatus `db:"session_status" json:"session_status"`
	FailureNotificationSent    bool          `db:"failure_notification_sent" json:"failure_notification_sent"`
	DayTemplates               DayTemplates  `db:"day_templates" json:"day_templates,omitempty"`
	UpdatedAt                  time.Time     `db:"updated_at" json:"updated_at"`
}

// EffectiveSentToday applies the daily reset boundary on read: if the counter
// was last touched before today's date, it counts as zero. The reset is a
// pure function of (now, LastResetDate), there is no reset job.
func (c *SenderConfig) EffectiveSentToday(now time.Time) int {
	if sameDay(c.LastResetDate, now) {
		return c.MessagesSentToday
	}
	return 0
}

// AtDailyCap reports whether the sender has exhausted today's quota.
func (c *SenderConfig) AtDailyCap(now time.Time) bool {
	return c.MaxMessagesPerDay > 0 && c.EffectiveSentToday(now) >= c.MaxMessagesPerDay
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
