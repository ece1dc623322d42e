package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
)

type TargetRepositoryInterface interface {
	Create(t *model.Target) error
	GetByID(id string) (*model.Target, error)
	HasActiveInScope(recipientID string, scope model.Scope) (bool, error)
	ListDue(now time.Time, limit, offset int) ([]*model.Target, error)
	List(senderID string, status model.TargetStatus, offset, limit int) ([]*model.Target, int, error)
	CountByCampaign(campaignID string, statuses ...model.TargetStatus) (int, error)
	ExistsInCampaign(recipientID, campaignID string) (bool, error)
	StatusCountsByCampaign(campaignID string) (map[model.TargetStatus]int, error)

	// Conditional state transitions. All return whether a row actually
	// changed: a false result means the Target was no longer in the
	// expected state, which callers treat as a benign no-op.
	AdvanceDay(id string, fromDay int, sentAt, nextDue time.Time) (bool, error)
	CompleteIfActive(id string, reason model.ExitReason, at time.Time) (bool, error)
	SetStatusByCampaign(campaignID string, from, to model.TargetStatus) (int, error)
	CompleteByCampaign(campaignID string, reason model.ExitReason, at time.Time) (int, error)
	CompleteActiveByRecipient(recipientID string, reason model.ExitReason, at time.Time) ([]*model.Target, error)
	CompleteActiveBySender(senderID string, reason model.ExitReason, at time.Time) ([]*model.Target, error)

	RecordAttempt(a *model.DeliveryAttempt) error
	ListAttempts(targetID string) ([]model.DeliveryAttempt, error)
}

type TargetRepository struct {
	DB *sql.DB
}

const targetColumns = `id, recipient_id, sender_id, campaign_id, current_day, next_message_due,
        last_message_sent_at, language, status, exited_at, exit_reason, created_at, updated_at`

func (r *TargetRepository) Create(t *model.Target) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	query := `
        INSERT INTO targets (id, recipient_id, sender_id, campaign_id, current_day, next_message_due,
            last_message_sent_at, language, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    `
	_, err := r.DB.Exec(query,
		t.ID, t.RecipientID, t.SenderID, t.CampaignID, t.CurrentDay, t.NextMessageDue,
		t.LastMessageSentAt, t.Language, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (r *TargetRepository) GetByID(id string) (*model.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id=$1`
	t, err := scanTarget(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewTargetNotFound(id)
	}
	return t, err
}

func (r *TargetRepository) HasActiveInScope(recipientID string, scope model.Scope) (bool, error) {
	var count int
	var err error
	if scope.IsDefault() {
		err = r.DB.QueryRow(`
            SELECT COUNT(*) FROM targets
            WHERE recipient_id=$1 AND sender_id=$2 AND campaign_id IS NULL AND status='active'`,
			recipientID, scope.SenderID).Scan(&count)
	} else {
		err = r.DB.QueryRow(`
            SELECT COUNT(*) FROM targets
            WHERE recipient_id=$1 AND sender_id=$2 AND campaign_id=$3 AND status='active'`,
			recipientID, scope.SenderID, *scope.CampaignID).Scan(&count)
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListDue selects one page of active Targets whose next message is due,
// ordered so a sender's group comes out in ascending day order.
func (r *TargetRepository) ListDue(now time.Time, limit, offset int) ([]*model.Target, error) {
	query := `
        SELECT ` + targetColumns + `
        FROM targets
        WHERE status='active' AND next_message_due <= $1 AND current_day <= $2
        ORDER BY sender_id, current_day, next_message_due, id
        LIMIT $3 OFFSET $4
    `
	rows, err := r.DB.Query(query, now, model.FinalDay, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTargets(rows)
}

func (r *TargetRepository) List(senderID string, status model.TargetStatus, offset, limit int) ([]*model.Target, int, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE 1=1`
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
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	targets, err := scanTargets(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM targets WHERE 1=1`
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
	return targets, total, nil
}

func (r *TargetRepository) CountByCampaign(campaignID string, statuses ...model.TargetStatus) (int, error) {
	query := `SELECT COUNT(*) FROM targets WHERE campaign_id=$1`
	args := []interface{}{campaignID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		ss := make([]string, len(statuses))
		for i, s := range statuses {
			ss[i] = string(s)
		}
		args = append(args, pq.Array(ss))
	}
	var count int
	err := r.DB.QueryRow(query, args...).Scan(&count)
	return count, err
}

// ExistsInCampaign reports whether the recipient has ever had a Target in
// the campaign, in any state.
func (r *TargetRepository) ExistsInCampaign(recipientID, campaignID string) (bool, error) {
	var count int
	err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM targets WHERE recipient_id=$1 AND campaign_id=$2`,
		recipientID, campaignID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *TargetRepository) StatusCountsByCampaign(campaignID string) (map[model.TargetStatus]int, error) {
	rows, err := r.DB.Query(`
        SELECT status, COUNT(*) FROM targets WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.TargetStatus]int{
		model.TargetActive:    0,
		model.TargetCompleted: 0,
		model.TargetPaused:    0,
	}
	for rows.Next() {
		var status model.TargetStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// AdvanceDay moves an active Target from fromDay to the next day after a
// successful send. The WHERE clause makes the write a no-op if the Target
// was exited or paused concurrently.
func (r *TargetRepository) AdvanceDay(id string, fromDay int, sentAt, nextDue time.Time) (bool, error) {
	query := `
        UPDATE targets
        SET current_day = current_day + 1,
            last_message_sent_at = $1,
            next_message_due = $2,
            updated_at = NOW()
        WHERE id=$3 AND status='active' AND current_day=$4
    `
	res, err := r.DB.Exec(query, sentAt, nextDue, id, fromDay)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TargetRepository) CompleteIfActive(id string, reason model.ExitReason, at time.Time) (bool, error) {
	query := `
        UPDATE targets
        SET status='completed', exit_reason=$1, exited_at=$2, updated_at=NOW()
        WHERE id=$3 AND status='active'
    `
	res, err := r.DB.Exec(query, reason, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TargetRepository) SetStatusByCampaign(campaignID string, from, to model.TargetStatus) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE targets SET status=$1, updated_at=NOW()
        WHERE campaign_id=$2 AND status=$3`, to, campaignID, from)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *TargetRepository) CompleteByCampaign(campaignID string, reason model.ExitReason, at time.Time) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE targets
        SET status='completed', exit_reason=$1, exited_at=$2, updated_at=NOW()
        WHERE campaign_id=$3 AND status IN ('active', 'paused')`, reason, at, campaignID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *TargetRepository) CompleteActiveByRecipient(recipientID string, reason model.ExitReason, at time.Time) ([]*model.Target, error) {
	query := `
        UPDATE targets
        SET status='completed', exit_reason=$1, exited_at=$2, updated_at=NOW()
        WHERE recipient_id=$3 AND status='active'
        RETURNING ` + targetColumns
	rows, err := r.DB.Query(query, reason, at, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTargets(rows)
}

func (r *TargetRepository) CompleteActiveBySender(senderID string, reason model.ExitReason, at time.Time) ([]*model.Target, error) {
	query := `
        UPDATE targets
        SET status='completed', exit_reason=$1, exited_at=$2, updated_at=NOW()
        WHERE sender_id=$3 AND status IN ('active', 'paused')
        RETURNING ` + targetColumns
	rows, err := r.DB.Query(query, reason, at, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTargets(rows)
}

func (r *TargetRepository) RecordAttempt(a *model.DeliveryAttempt) error {
	query := `
        INSERT INTO delivery_attempts (target_id, day, sent_at, outcome, error_detail)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRow(query, a.TargetID, a.Day, a.SentAt, a.Outcome, a.ErrorDetail).Scan(&a.ID)
}

func (r *TargetRepository) ListAttempts(targetID string) ([]model.DeliveryAttempt, error) {
	rows, err := r.DB.Query(`
        SELECT id, target_id, day, sent_at, outcome, error_detail
        FROM delivery_attempts WHERE target_id=$1 ORDER BY sent_at, id`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.DeliveryAttempt{}
	for rows.Next() {
		var a model.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.TargetID, &a.Day, &a.SentAt, &a.Outcome, &a.ErrorDetail); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTarget(row rowScanner) (*model.Target, error) {
	var t model.Target
	var campaignID sql.NullString
	var exitReason sql.NullString
	err := row.Scan(
		&t.ID, &t.RecipientID, &t.SenderID, &campaignID, &t.CurrentDay, &t.NextMessageDue,
		&t.LastMessageSentAt, &t.Language, &t.Status, &t.ExitedAt, &exitReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if campaignID.Valid {
		t.CampaignID = &campaignID.String
	}
	if exitReason.Valid {
		reason := model.ExitReason(exitReason.String)
		t.ExitReason = &reason
	}
	return &t, nil
}

func scanTargets(rows *sql.Rows) ([]*model.Target, error) {
	targets := []*model.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

var _ TargetRepositoryInterface = (*TargetRepository)(nil)
