package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/followup-backend/internal/model"
)

// ReferralRepositoryInterface exposes the candidate pool the enrollment job
// draws from, plus the payment bookkeeping driven by exit events.
type ReferralRepositoryInterface interface {
	Create(ref *model.Referral) error
	GetByRecipient(senderID, recipientID string) (*model.Referral, error)
	ListUnpaidOlderThan(senderID string, before time.Time) ([]*model.Referral, error)
	ListMatching(senderID string, filter *model.TargetFilter, limit int) ([]*model.Referral, error)
	CountMatching(senderID string, filter *model.TargetFilter) (int, error)
	MarkPaid(recipientID string, at time.Time) (int, error)
}

type ReferralRepository struct {
	DB *sql.DB
}

const referralColumns = `id, sender_id, recipient_id, recipient_name, phone, language, referred_at, paid, paid_at`

func (r *ReferralRepository) Create(ref *model.Referral) error {
	query := `
        INSERT INTO referrals (id, sender_id, recipient_id, recipient_name, phone, language, referred_at, paid, paid_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.Exec(query, ref.ID, ref.SenderID, ref.RecipientID, ref.RecipientName,
		ref.Phone, ref.Language, ref.ReferredAt, ref.Paid, ref.PaidAt)
	return err
}

func (r *ReferralRepository) GetByRecipient(senderID, recipientID string) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE sender_id=$1 AND recipient_id=$2`
	ref, err := scanReferral(r.DB.QueryRow(query, senderID, recipientID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ref, err
}

// ListUnpaidOlderThan returns a sender's unpaid referrals whose triggering
// event predates the cutoff (the enrollment grace period).
func (r *ReferralRepository) ListUnpaidOlderThan(senderID string, before time.Time) ([]*model.Referral, error) {
	query := `
        SELECT ` + referralColumns + `
        FROM referrals
        WHERE sender_id=$1 AND paid=FALSE AND referred_at <= $2
        ORDER BY referred_at
    `
	rows, err := r.DB.Query(query, senderID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReferrals(rows)
}

func (r *ReferralRepository) ListMatching(senderID string, filter *model.TargetFilter, limit int) ([]*model.Referral, error) {
	refs, err := r.ListUnpaidOlderThan(senderID, time.Now())
	if err != nil {
		return nil, err
	}
	matched := []*model.Referral{}
	for _, ref := range refs {
		if filter.Matches(ref) {
			matched = append(matched, ref)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func (r *ReferralRepository) CountMatching(senderID string, filter *model.TargetFilter) (int, error) {
	matched, err := r.ListMatching(senderID, filter, 0)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// MarkPaid flags every referral of the recipient as paid, across senders.
func (r *ReferralRepository) MarkPaid(recipientID string, at time.Time) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE referrals SET paid=TRUE, paid_at=$1 WHERE recipient_id=$2 AND paid=FALSE`, at, recipientID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanReferral(row rowScanner) (*model.Referral, error) {
	var ref model.Referral
	err := row.Scan(&ref.ID, &ref.SenderID, &ref.RecipientID, &ref.RecipientName,
		&ref.Phone, &ref.Language, &ref.ReferredAt, &ref.Paid, &ref.PaidAt)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func scanReferrals(rows *sql.Rows) ([]*model.Referral, error) {
	refs := []*model.Referral{}
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

var _ ReferralRepositoryInterface = (*ReferralRepository)(nil)
