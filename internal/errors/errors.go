// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrTargetNotFound struct {
	TargetID string
}

func (e *ErrTargetNotFound) Error() string {
	return fmt.Sprintf("target %s not found", e.TargetID)
}

func NewTargetNotFound(id string) error {
	return &ErrTargetNotFound{TargetID: id}
}

type ErrConfigNotFound struct {
	SenderID string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config for sender %s not found", e.SenderID)
}

func NewConfigNotFound(senderID string) error {
	return &ErrConfigNotFound{SenderID: senderID}
}

// ErrInvalidTransition signals a campaign lifecycle operation applied in the
// wrong state.
type ErrInvalidTransition struct {
	CampaignID string
	From       string
	Op         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %s cannot %s from status %s", e.CampaignID, e.Op, e.From)
}

func NewInvalidTransition(campaignID, from, op string) error {
	return &ErrInvalidTransition{CampaignID: campaignID, From: from, Op: op}
}

// ErrEmptyFilterMatch is returned at campaign creation when the filter
// matches no recipients. The campaign stays in draft.
type ErrEmptyFilterMatch struct {
	CampaignID string
}

func (e *ErrEmptyFilterMatch) Error() string {
	return fmt.Sprintf("campaign %s filter matches no recipients", e.CampaignID)
}

func NewEmptyFilterMatch(campaignID string) error {
	return &ErrEmptyFilterMatch{CampaignID: campaignID}
}

// ErrTargetCeilingExceeded is returned at campaign creation when the filter
// matches more recipients than the sender's per-campaign ceiling.
type ErrTargetCeilingExceeded struct {
	CampaignID string
	Matched    int
	Ceiling    int
}

func (e *ErrTargetCeilingExceeded) Error() string {
	return fmt.Sprintf("campaign %s filter matches %d recipients, ceiling is %d", e.CampaignID, e.Matched, e.Ceiling)
}

func NewTargetCeilingExceeded(campaignID string, matched, ceiling int) error {
	return &ErrTargetCeilingExceeded{CampaignID: campaignID, Matched: matched, Ceiling: ceiling}
}

// ErrChainNotReady signals that a campaign with run_after_campaign_id set
// cannot activate before the referenced campaign finishes.
type ErrChainNotReady struct {
	CampaignID string
	AfterID    string
}

func (e *ErrChainNotReady) Error() string {
	return fmt.Sprintf("campaign %s is chained after %s which has not finished", e.CampaignID, e.AfterID)
}

func NewChainNotReady(campaignID, afterID string) error {
	return &ErrChainNotReady{CampaignID: campaignID, AfterID: afterID}
}
