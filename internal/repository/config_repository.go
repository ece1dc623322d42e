package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
)

type ConfigRepositoryInterface interface {
	Get(senderID string) (*model.SenderConfig, error)
	Upsert(c *model.SenderConfig) error
	ListEnrollable() ([]*model.SenderConfig, error)
	SetDefaultCampaignPaused(senderID string, paused bool) error
	SetSessionStatus(senderID string, status model.SessionStatus) error
	SetFailureNotificationSent(senderID string, sent bool) error
	IncrementSentToday(senderID string, n int, now time.Time) error
}

type ConfigRepository struct {
	DB *sql.DB
}

const configColumns = `sender_id, enabled, enrollment_paused, sending_paused, default_campaign_paused,
        allow_simultaneous_campaigns, messages_sent_today, last_reset_date, max_messages_per_day,
        max_targets_per_campaign, session_status, failure_notification_sent, day_templates, updated_at`

func (r *ConfigRepository) Get(senderID string) (*model.SenderConfig, error) {
	query := `SELECT ` + configColumns + ` FROM sender_configs WHERE sender_id=$1`
	c, err := scanConfig(r.DB.QueryRow(query, senderID))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewConfigNotFound(senderID)
	}
	return c, err
}

func (r *ConfigRepository) Upsert(c *model.SenderConfig) error {
	templatesJSON, err := marshalNullable(c.DayTemplates)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO sender_configs (sender_id, enabled, enrollment_paused, sending_paused,
            default_campaign_paused, allow_simultaneous_campaigns, messages_sent_today, last_reset_date,
            max_messages_per_day, max_targets_per_campaign, session_status, failure_notification_sent,
            day_templates, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
        ON CONFLICT (sender_id) DO UPDATE SET
            enabled=EXCLUDED.enabled,
            enrollment_paused=EXCLUDED.enrollment_paused,
            sending_paused=EXCLUDED.sending_paused,
            default_campaign_paused=EXCLUDED.default_campaign_paused,
            allow_simultaneous_campaigns=EXCLUDED.allow_simultaneous_campaigns,
            max_messages_per_day=EXCLUDED.max_messages_per_day,
            max_targets_per_campaign=EXCLUDED.max_targets_per_campaign,
            day_templates=EXCLUDED.day_templates,
            updated_at=NOW()
    `
	_, err = r.DB.Exec(query,
		c.SenderID, c.Enabled, c.EnrollmentPaused, c.SendingPaused,
		c.DefaultCampaignPaused, c.AllowSimultaneousCampaigns, c.MessagesSentToday, c.LastResetDate,
		c.MaxMessagesPerDay, c.MaxTargetsPerCampaign, c.SessionStatus, c.FailureNotificationSent,
		templatesJSON,
	)
	return err
}

// ListEnrollable returns configs eligible for the enrollment job: enabled,
// enrollment not paused, session connected.
func (r *ConfigRepository) ListEnrollable() ([]*model.SenderConfig, error) {
	query := `
        SELECT ` + configColumns + `
        FROM sender_configs
        WHERE enabled = TRUE AND enrollment_paused = FALSE AND session_status = 'connected'
        ORDER BY sender_id
    `
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := []*model.SenderConfig{}
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *ConfigRepository) SetDefaultCampaignPaused(senderID string, paused bool) error {
	_, err := r.DB.Exec(`
        UPDATE sender_configs SET default_campaign_paused=$1, updated_at=NOW()
        WHERE sender_id=$2`, paused, senderID)
	return err
}

func (r *ConfigRepository) SetSessionStatus(senderID string, status model.SessionStatus) error {
	_, err := r.DB.Exec(`
        UPDATE sender_configs SET session_status=$1, updated_at=NOW()
        WHERE sender_id=$2`, status, senderID)
	return err
}

func (r *ConfigRepository) SetFailureNotificationSent(senderID string, sent bool) error {
	_, err := r.DB.Exec(`
        UPDATE sender_configs SET failure_notification_sent=$1, updated_at=NOW()
        WHERE sender_id=$2`, sent, senderID)
	return err
}

// IncrementSentToday bumps the daily counter, resetting it first when the
// date boundary has passed. The reset is folded into the same statement so
// no separate reset job exists.
func (r *ConfigRepository) IncrementSentToday(senderID string, n int, now time.Time) error {
	day := now.UTC().Truncate(24 * time.Hour)
	_, err := r.DB.Exec(`
        UPDATE sender_configs
        SET messages_sent_today = CASE WHEN last_reset_date < $1::date THEN $2 ELSE messages_sent_today + $2 END,
            last_reset_date = $1::date,
            updated_at = NOW()
        WHERE sender_id=$3`, day, n, senderID)
	return err
}

func scanConfig(row rowScanner) (*model.SenderConfig, error) {
	var c model.SenderConfig
	var templatesJSON []byte
	err := row.Scan(
		&c.SenderID, &c.Enabled, &c.EnrollmentPaused, &c.SendingPaused, &c.DefaultCampaignPaused,
		&c.AllowSimultaneousCampaigns, &c.MessagesSentToday, &c.LastResetDate, &c.MaxMessagesPerDay,
		&c.MaxTargetsPerCampaign, &c.SessionStatus, &c.FailureNotificationSent, &templatesJSON, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(templatesJSON) > 0 {
		if err := json.Unmarshal(templatesJSON, &c.DayTemplates); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

var _ ConfigRepositoryInterface = (*ConfigRepository)(nil)
