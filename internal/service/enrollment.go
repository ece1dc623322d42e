// internal/service/enrollment.go
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/followup-backend/internal/eligibility"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
)

// EnrollmentService is the periodic job that discovers eligible recipients
// and creates Targets. It is idempotent: a run with no state change since the
// previous run enrolls nothing.
type EnrollmentService struct {
	Targets       repository.TargetRepositoryInterface
	Campaigns     repository.CampaignRepositoryInterface
	Configs       repository.ConfigRepositoryInterface
	Referrals     repository.ReferralRepositoryInterface
	Subscriptions eligibility.SubscriptionChecker
	Payments      eligibility.PaymentChecker

	// GracePeriod is how long after the referral event a recipient stays
	// out of consideration.
	GracePeriod time.Duration

	Log zerolog.Logger
	Now func() time.Time
}

type EnrollmentStats struct {
	Senders  int
	Enrolled int
	Skipped  int
}

func (s *EnrollmentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run executes one enrollment cycle. Only a store failure listing the
// eligible senders aborts the run; everything below that is isolated
// per sender.
func (s *EnrollmentService) Run(ctx context.Context) (EnrollmentStats, error) {
	now := s.now()
	var stats EnrollmentStats

	configs, err := s.Configs.ListEnrollable()
	if err != nil {
		return stats, fmt.Errorf("list enrollable senders: %w", err)
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Senders++
		if err := s.enrollSender(ctx, cfg, now, &stats); err != nil {
			s.Log.Warn().Err(err).Str("sender_id", cfg.SenderID).Msg("enrollment failed for sender")
		}
	}

	s.Log.Info().
		Int("senders", stats.Senders).
		Int("enrolled", stats.Enrolled).
		Int("skipped", stats.Skipped).
		Msg("enrollment cycle finished")
	return stats, nil
}

// scopePolicy pairs an enrollment scope with the campaign row backing it
// (nil for the implicit default campaign).
type scopePolicy struct {
	scope    model.Scope
	campaign *model.Campaign
}

func (s *EnrollmentService) enrollSender(ctx context.Context, cfg *model.SenderConfig, now time.Time, stats *EnrollmentStats) error {
	entitled, err := s.Subscriptions.Entitled(ctx, cfg.SenderID)
	if err != nil {
		return fmt.Errorf("subscription check: %w", err)
	}
	if !entitled {
		return nil
	}

	scopes, err := s.activeScopes(cfg)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		return nil
	}

	cutoff := now.Add(-s.GracePeriod)
	candidates, err := s.Referrals.ListUnpaidOlderThan(cfg.SenderID, cutoff)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}

	for _, sp := range scopes {
		enrolledInScope := 0
		ceiling := 0
		if sp.campaign != nil {
			ceiling = sp.campaign.MaxTargets
			if ceiling <= 0 {
				ceiling = cfg.MaxTargetsPerCampaign
			}
			count, err := s.Targets.CountByCampaign(sp.campaign.ID)
			if err != nil {
				return fmt.Errorf("count campaign targets: %w", err)
			}
			enrolledInScope = count
		}

		for _, ref := range candidates {
			if sp.campaign != nil {
				if ceiling > 0 && enrolledInScope >= ceiling {
					break
				}
				if !sp.campaign.Filter.Matches(ref) {
					stats.Skipped++
					continue
				}
			}
			ok, err := s.enrollOne(ctx, cfg, sp, ref, now)
			if err != nil {
				// Eligibility errors skip one candidate, never the run.
				s.Log.Warn().Err(err).
					Str("sender_id", cfg.SenderID).
					Str("recipient_id", ref.RecipientID).
					Msg("skipping candidate")
				stats.Skipped++
				continue
			}
			if ok {
				stats.Enrolled++
				enrolledInScope++
			} else {
				stats.Skipped++
			}
		}
	}
	return nil
}

// activeScopes returns the scopes currently enrolling for a sender: every
// active filtered campaign, plus the implicit default campaign unless it is
// paused.
func (s *EnrollmentService) activeScopes(cfg *model.SenderConfig) ([]scopePolicy, error) {
	scopes := []scopePolicy{}

	active, err := s.Campaigns.ListBySender(cfg.SenderID, model.CampaignActive)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	for _, c := range active {
		if c.Type == model.CampaignFiltered {
			scopes = append(scopes, scopePolicy{scope: model.FilteredScope(cfg.SenderID, c.ID), campaign: c})
		}
	}
	if !cfg.DefaultCampaignPaused {
		scopes = append(scopes, scopePolicy{scope: model.DefaultScope(cfg.SenderID)})
	}
	return scopes, nil
}

func (s *EnrollmentService) enrollOne(ctx context.Context, cfg *model.SenderConfig, sp scopePolicy, ref *model.Referral, now time.Time) (bool, error) {
	paid, err := s.Payments.HasPaid(ctx, cfg.SenderID, ref.RecipientID)
	if err != nil {
		return false, fmt.Errorf("paid check: %w", err)
	}
	if paid {
		return false, nil
	}

	exists, err := s.Targets.HasActiveInScope(ref.RecipientID, sp.scope)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	target := &model.Target{
		ID:             uuid.NewString(),
		RecipientID:    ref.RecipientID,
		SenderID:       cfg.SenderID,
		CampaignID:     sp.scope.CampaignID,
		CurrentDay:     1,
		NextMessageDue: now,
		Language:       ref.Language,
		Status:         model.TargetActive,
	}
	if err := s.Targets.Create(target); err != nil {
		return false, fmt.Errorf("create target: %w", err)
	}

	if sp.campaign != nil {
		if err := s.Campaigns.IncrementCounters(sp.campaign.ID, model.CounterDelta{TargetsEnrolled: 1}); err != nil {
			s.Log.Warn().Err(err).Str("campaign_id", sp.campaign.ID).Msg("failed to bump enrollment counter")
		}
	}
	return true, nil
}
