// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
)

// CampaignService owns the campaign lifecycle and the cross-campaign
// exclusivity rules, and applies the exit triggers (payment, subscription
// expiry) that force Targets out of the sequence.
type CampaignService struct {
	Campaigns repository.CampaignRepositoryInterface
	Targets   repository.TargetRepositoryInterface
	Configs   repository.ConfigRepositoryInterface
	Referrals repository.ReferralRepositoryInterface

	Log zerolog.Logger
	Now func() time.Time
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateCampaignInput carries the campaign policy from the admin surface.
type CreateCampaignInput struct {
	SenderID           string              `json:"sender_id"`
	Name               string              `json:"name"`
	Filter             *model.TargetFilter `json:"filter"`
	DayTemplates       model.DayTemplates  `json:"day_templates"`
	MaxMessagesPerDay  *int                `json:"max_messages_per_day"`
	MaxTargets         int                 `json:"max_targets"`
	ScheduledStartDate *time.Time          `json:"scheduled_start_date"`
	RunAfterCampaignID *string             `json:"run_after_campaign_id"`
}

// CreateCampaign persists a filtered campaign in draft. Policy problems
// (empty filter match, match count over the ceiling) are surfaced to the
// caller but the draft row is kept, so the policy can be edited and started
// later.
func (s *CampaignService) CreateCampaign(in CreateCampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		ID:                 uuid.NewString(),
		SenderID:           in.SenderID,
		Name:               in.Name,
		Type:               model.CampaignFiltered,
		Status:             model.CampaignDraft,
		Filter:             in.Filter,
		DayTemplates:       in.DayTemplates,
		MaxMessagesPerDay:  in.MaxMessagesPerDay,
		MaxTargets:         in.MaxTargets,
		ScheduledStartDate: in.ScheduledStartDate,
		RunAfterCampaignID: in.RunAfterCampaignID,
	}
	if err := s.Campaigns.Create(c); err != nil {
		return nil, err
	}

	matched, err := s.Referrals.CountMatching(in.SenderID, in.Filter)
	if err != nil {
		return c, fmt.Errorf("validate filter: %w", err)
	}
	if matched == 0 {
		return c, appErrors.NewEmptyFilterMatch(c.ID)
	}
	ceiling := c.MaxTargets
	if ceiling <= 0 {
		if cfg, err := s.Configs.Get(in.SenderID); err == nil {
			ceiling = cfg.MaxTargetsPerCampaign
		}
	}
	if ceiling > 0 && matched > ceiling {
		return c, appErrors.NewTargetCeilingExceeded(c.ID, matched, ceiling)
	}
	return c, nil
}

// StartCampaign moves a draft campaign forward: into scheduled when a future
// start date is set, otherwise straight to active.
func (s *CampaignService) StartCampaign(id string) (*model.Campaign, error) {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidTransition(id, string(c.Status), "start")
	}

	now := s.now()
	if c.ScheduledStartDate != nil && c.ScheduledStartDate.After(now) {
		if _, err := s.Campaigns.UpdateStatusFrom(id, []model.CampaignStatus{model.CampaignDraft}, model.CampaignScheduled); err != nil {
			return nil, err
		}
		c.Status = model.CampaignScheduled
		return c, nil
	}
	if err := s.activate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// activate promotes a draft or scheduled campaign to active, enforcing the
// chain gate and the default-campaign exclusivity rule.
func (s *CampaignService) activate(c *model.Campaign) error {
	if c.RunAfterCampaignID != nil {
		after, err := s.Campaigns.GetByID(*c.RunAfterCampaignID)
		if err != nil {
			return err
		}
		if !after.Terminal() {
			return appErrors.NewChainNotReady(c.ID, after.ID)
		}
	}

	changed, err := s.Campaigns.UpdateStatusFrom(c.ID,
		[]model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}, model.CampaignActive)
	if err != nil {
		return err
	}
	if !changed {
		return appErrors.NewInvalidTransition(c.ID, string(c.Status), "activate")
	}
	c.Status = model.CampaignActive

	if c.Type == model.CampaignFiltered {
		cfg, err := s.Configs.Get(c.SenderID)
		if err != nil {
			return err
		}
		if !cfg.AllowSimultaneousCampaigns && !cfg.DefaultCampaignPaused {
			if err := s.Configs.SetDefaultCampaignPaused(c.SenderID, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// PauseCampaign suspends an active campaign. Its Targets move to paused
// without touching day or due time, so resuming is penalty-free.
func (s *CampaignService) PauseCampaign(id string) error {
	changed, err := s.Campaigns.UpdateStatusFrom(id, []model.CampaignStatus{model.CampaignActive}, model.CampaignPaused)
	if err != nil {
		return err
	}
	if !changed {
		c, err := s.Campaigns.GetByID(id)
		if err != nil {
			return err
		}
		return appErrors.NewInvalidTransition(id, string(c.Status), "pause")
	}
	if _, err := s.Targets.SetStatusByCampaign(id, model.TargetActive, model.TargetPaused); err != nil {
		return err
	}
	return nil
}

func (s *CampaignService) ResumeCampaign(id string) error {
	changed, err := s.Campaigns.UpdateStatusFrom(id, []model.CampaignStatus{model.CampaignPaused}, model.CampaignActive)
	if err != nil {
		return err
	}
	if !changed {
		c, err := s.Campaigns.GetByID(id)
		if err != nil {
			return err
		}
		return appErrors.NewInvalidTransition(id, string(c.Status), "resume")
	}
	if _, err := s.Targets.SetStatusByCampaign(id, model.TargetPaused, model.TargetActive); err != nil {
		return err
	}
	return nil
}

// CancelCampaign is terminal: every Target still in the sequence exits with
// reason manual, synchronously with the cancel.
func (s *CampaignService) CancelCampaign(id string) error {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return err
	}
	changed, err := s.Campaigns.UpdateStatusFrom(id,
		[]model.CampaignStatus{model.CampaignScheduled, model.CampaignActive, model.CampaignPaused},
		model.CampaignCancelled)
	if err != nil {
		return err
	}
	if !changed {
		return appErrors.NewInvalidTransition(id, string(c.Status), "cancel")
	}

	exited, err := s.Targets.CompleteByCampaign(id, model.ExitManual, s.now())
	if err != nil {
		return err
	}
	if exited > 0 {
		if err := s.Campaigns.IncrementCounters(id, model.CounterDelta{TargetsExited: exited}); err != nil {
			s.Log.Warn().Err(err).Str("campaign_id", id).Msg("failed to bump exit counter")
		}
	}

	if c.Type == model.CampaignFiltered {
		if err := s.clearDefaultPauseIfLastFiltered(c.SenderID); err != nil {
			s.Log.Warn().Err(err).Str("sender_id", c.SenderID).Msg("failed to clear default campaign pause")
		}
	}
	return nil
}

// clearDefaultPauseIfLastFiltered re-enables the implicit default campaign
// once no filtered campaign is running for the sender.
func (s *CampaignService) clearDefaultPauseIfLastFiltered(senderID string) error {
	running, err := s.Campaigns.ListBySender(senderID, model.CampaignActive, model.CampaignPaused)
	if err != nil {
		return err
	}
	for _, c := range running {
		if c.Type == model.CampaignFiltered {
			return nil
		}
	}
	return s.Configs.SetDefaultCampaignPaused(senderID, false)
}

// PromoteScheduled activates scheduled campaigns whose start date has passed
// and whose chain gate is satisfied. Called on the enrollment cadence.
func (s *CampaignService) PromoteScheduled(ctx context.Context) error {
	now := s.now()
	scheduled, err := s.Campaigns.ListByStatus(model.CampaignScheduled)
	if err != nil {
		return fmt.Errorf("list scheduled campaigns: %w", err)
	}
	for _, c := range scheduled {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.ScheduledStartDate != nil && c.ScheduledStartDate.After(now) {
			continue
		}
		if err := s.activate(c); err != nil {
			if _, ok := err.(*appErrors.ErrChainNotReady); ok {
				continue
			}
			s.Log.Warn().Err(err).Str("campaign_id", c.ID).Msg("failed to promote scheduled campaign")
		}
	}
	return nil
}

// AutoCompleteExhausted completes active filtered campaigns whose filter has
// no candidates left and whose Targets have all exited.
func (s *CampaignService) AutoCompleteExhausted(ctx context.Context) error {
	active, err := s.Campaigns.ListByStatus(model.CampaignActive)
	if err != nil {
		return fmt.Errorf("list active campaigns: %w", err)
	}
	for _, c := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Type != model.CampaignFiltered {
			continue
		}
		done, err := s.campaignExhausted(c)
		if err != nil {
			s.Log.Warn().Err(err).Str("campaign_id", c.ID).Msg("exhaustion check failed")
			continue
		}
		if !done {
			continue
		}
		changed, err := s.Campaigns.UpdateStatusFrom(c.ID, []model.CampaignStatus{model.CampaignActive}, model.CampaignCompleted)
		if err != nil || !changed {
			continue
		}
		s.Log.Info().Str("campaign_id", c.ID).Msg("campaign completed, filter exhausted")
		if err := s.clearDefaultPauseIfLastFiltered(c.SenderID); err != nil {
			s.Log.Warn().Err(err).Str("sender_id", c.SenderID).Msg("failed to clear default campaign pause")
		}
	}
	return nil
}

func (s *CampaignService) campaignExhausted(c *model.Campaign) (bool, error) {
	inFlight, err := s.Targets.CountByCampaign(c.ID, model.TargetActive, model.TargetPaused)
	if err != nil {
		return false, err
	}
	if inFlight > 0 {
		return false, nil
	}
	matching, err := s.Referrals.ListMatching(c.SenderID, c.Filter, 0)
	if err != nil {
		return false, err
	}
	for _, ref := range matching {
		seen, err := s.Targets.ExistsInCampaign(ref.RecipientID, c.ID)
		if err != nil {
			return false, err
		}
		if !seen {
			// An untouched candidate remains; the filter is not exhausted.
			return false, nil
		}
	}
	return true, nil
}

// HandlePaymentEvent force-exits every active Target of the recipient with
// reason paid, regardless of day or due time, and marks the referral paid.
func (s *CampaignService) HandlePaymentEvent(ctx context.Context, recipientID string) (int, error) {
	now := s.now()
	if _, err := s.Referrals.MarkPaid(recipientID, now); err != nil {
		return 0, fmt.Errorf("mark referral paid: %w", err)
	}
	exited, err := s.Targets.CompleteActiveByRecipient(recipientID, model.ExitPaid, now)
	if err != nil {
		return 0, fmt.Errorf("exit targets: %w", err)
	}
	s.bumpExitCounters(exited)
	s.Log.Info().Str("recipient_id", recipientID).Int("exited", len(exited)).Msg("payment event applied")
	return len(exited), nil
}

// HandleSubscriptionExpired force-exits every Target of a sender whose
// subscription lapsed, with reason referrer_inactive.
func (s *CampaignService) HandleSubscriptionExpired(ctx context.Context, senderID string) (int, error) {
	exited, err := s.Targets.CompleteActiveBySender(senderID, model.ExitReferrerInactive, s.now())
	if err != nil {
		return 0, fmt.Errorf("exit targets: %w", err)
	}
	s.bumpExitCounters(exited)
	s.Log.Info().Str("sender_id", senderID).Int("exited", len(exited)).Msg("subscription expiry applied")
	return len(exited), nil
}

func (s *CampaignService) bumpExitCounters(exited []*model.Target) {
	perCampaign := map[string]int{}
	for _, t := range exited {
		if t.CampaignID != nil {
			perCampaign[*t.CampaignID]++
		}
	}
	for campaignID, n := range perCampaign {
		if err := s.Campaigns.IncrementCounters(campaignID, model.CounterDelta{TargetsExited: n}); err != nil {
			s.Log.Warn().Err(err).Str("campaign_id", campaignID).Msg("failed to bump exit counter")
		}
	}
}

// PreviewFilter reports how many recipients a filter would enroll, with a
// small sample, so the operator can sanity-check before committing.
func (s *CampaignService) PreviewFilter(senderID string, filter *model.TargetFilter) (int, []*model.Referral, error) {
	count, err := s.Referrals.CountMatching(senderID, filter)
	if err != nil {
		return 0, nil, err
	}
	sample, err := s.Referrals.ListMatching(senderID, filter, 10)
	if err != nil {
		return 0, nil, err
	}
	return count, sample, nil
}

// RenderPreview renders the message a recipient would receive on a given
// day, optionally with an override template instead of the stored one.
func (s *CampaignService) RenderPreview(campaignID, recipientID string, day int, overrideTemplate *string) (string, error) {
	if day < 1 || day > model.FinalDay {
		return "", fmt.Errorf("day must be between 1 and %d", model.FinalDay)
	}
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return "", err
	}
	ref, err := s.Referrals.GetByRecipient(c.SenderID, recipientID)
	if err != nil {
		return "", err
	}
	if ref == nil {
		return "", fmt.Errorf("recipient %s not found", recipientID)
	}

	var body string
	if overrideTemplate != nil && *overrideTemplate != "" {
		body = *overrideTemplate
	} else {
		cfg, err := s.Configs.Get(c.SenderID)
		if err != nil {
			cfg = nil
		}
		body, err = ResolveTemplate(c, cfg, day, ref.Language)
		if err != nil {
			return "", err
		}
	}
	return RenderTemplate(body, map[string]string{"name": ref.RecipientName}), nil
}

// CampaignDetails is the admin view of one campaign with live target stats.
type CampaignDetails struct {
	*model.Campaign
	TargetStats map[model.TargetStatus]int `json:"target_stats"`
}

func (s *CampaignService) GetCampaignDetailsWithStats(id string) (*CampaignDetails, error) {
	c, err := s.Campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Targets.StatusCountsByCampaign(id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: c, TargetStats: stats}, nil
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(page, pageSize int, senderID string, status model.CampaignStatus) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.Campaigns.ListCampaigns(offset, pageSize, senderID, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}
