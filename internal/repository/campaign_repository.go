package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	Update(c *model.Campaign) error
	UpdateStatusFrom(id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ListBySender(senderID string, statuses ...model.CampaignStatus) ([]*model.Campaign, error)
	ListByStatus(status model.CampaignStatus) ([]*model.Campaign, error)
	ListCampaigns(offset, limit int, senderID string, status model.CampaignStatus) ([]*model.Campaign, int, error)
	IncrementCounters(id string, delta model.CounterDelta) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, sender_id, name, type, status, filter, day_templates,
        max_messages_per_day, max_targets, scheduled_start_date, run_after_campaign_id,
        targets_enrolled, messages_sent, messages_delivered, messages_failed,
        targets_completed, targets_exited, created_at, updated_at`

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.Type == "" {
		c.Type = model.CampaignFiltered
	}
	filterJSON, err := marshalNullable(c.Filter)
	if err != nil {
		return err
	}
	templatesJSON, err := marshalNullable(c.DayTemplates)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO campaigns (id, sender_id, name, type, status, filter, day_templates,
            max_messages_per_day, max_targets, scheduled_start_date, run_after_campaign_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err = r.DB.Exec(query,
		c.ID, c.SenderID, c.Name, c.Type, c.Status, filterJSON, templatesJSON,
		c.MaxMessagesPerDay, c.MaxTargets, c.ScheduledStartDate, c.RunAfterCampaignID, c.CreatedAt,
	)
	return err
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	filterJSON, err := marshalNullable(c.Filter)
	if err != nil {
		return err
	}
	templatesJSON, err := marshalNullable(c.DayTemplates)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET name=$1, filter=$2, day_templates=$3, max_messages_per_day=$4, max_targets=$5,
            scheduled_start_date=$6, run_after_campaign_id=$7, updated_at=NOW()
        WHERE id=$8
    `
	_, err = r.DB.Exec(query, c.Name, filterJSON, templatesJSON, c.MaxMessagesPerDay,
		c.MaxTargets, c.ScheduledStartDate, c.RunAfterCampaignID, c.ID)
	return err
}

// UpdateStatusFrom transitions the campaign only if it is currently in one of
// the expected statuses; a false result means the transition lost the race.
func (r *CampaignRepository) UpdateStatusFrom(id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND status IN (`
	args := []interface{}{to, id}
	for i, s := range from {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", len(args)+1)
		args = append(args, s)
	}
	query += ")"
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) ListBySender(senderID string, statuses ...model.CampaignStatus) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE sender_id=$1`
	args := []interface{}{senderID}
	if len(statuses) > 0 {
		query += " AND status IN ("
		for i, s := range statuses {
			if i > 0 {
				query += ", "
			}
			query += fmt.Sprintf("$%d", len(args)+1)
			args = append(args, s)
		}
		query += ")"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

func (r *CampaignRepository) ListByStatus(status model.CampaignStatus) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY created_at`
	rows, err := r.DB.Query(query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCampaigns(rows)
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, senderID string, status model.CampaignStatus) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if senderID != "" {
		query += fmt.Sprintf(" AND sender_id=$%d", argPos)
		args = append(args, senderID)
		argPos++
	}
	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	campaigns, err := scanCampaigns(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if senderID != "" {
		countQuery += fmt.Sprintf(" AND sender_id=$%d", argPosCount)
		argsCount = append(argsCount, senderID)
		argPosCount++
	}
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) IncrementCounters(id string, d model.CounterDelta) error {
	query := `
        UPDATE campaigns
        SET targets_enrolled = targets_enrolled + $1,
            messages_sent = messages_sent + $2,
            messages_delivered = messages_delivered + $3,
            messages_failed = messages_failed + $4,
            targets_completed = targets_completed + $5,
            targets_exited = targets_exited + $6,
            updated_at = NOW()
        WHERE id=$7
    `
	_, err := r.DB.Exec(query, d.TargetsEnrolled, d.MessagesSent, d.MessagesDelivered,
		d.MessagesFailed, d.TargetsCompleted, d.TargetsExited, id)
	return err
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var filterJSON, templatesJSON []byte
	var maxPerDay sql.NullInt64
	var runAfter sql.NullString
	err := row.Scan(
		&c.ID, &c.SenderID, &c.Name, &c.Type, &c.Status, &filterJSON, &templatesJSON,
		&maxPerDay, &c.MaxTargets, &c.ScheduledStartDate, &runAfter,
		&c.TargetsEnrolled, &c.MessagesSent, &c.MessagesDelivered, &c.MessagesFailed,
		&c.TargetsCompleted, &c.TargetsExited, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(filterJSON) > 0 {
		c.Filter = &model.TargetFilter{}
		if err := json.Unmarshal(filterJSON, c.Filter); err != nil {
			return nil, err
		}
	}
	if len(templatesJSON) > 0 {
		if err := json.Unmarshal(templatesJSON, &c.DayTemplates); err != nil {
			return nil, err
		}
	}
	if maxPerDay.Valid {
		v := int(maxPerDay.Int64)
		c.MaxMessagesPerDay = &v
	}
	if runAfter.Valid {
		c.RunAfterCampaignID = &runAfter.String
	}
	return &c, nil
}

func scanCampaigns(rows *sql.Rows) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case *model.TargetFilter:
		if x == nil {
			return nil, nil
		}
	case model.DayTemplates:
		if x == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
