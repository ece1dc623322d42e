// internal/service/dispatch.go
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/followup-backend/internal/eligibility"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
	"github.com/unclebandit/followup-backend/internal/session"
)

const (
	defaultWaveSize        = 50
	defaultBatchSize       = 500
	defaultMessageInterval = 3 * time.Second
	defaultDayInterval     = 24 * time.Hour
)

// DispatchService is the periodic job that delivers all due messages. Due
// Targets are grouped by sender; groups run concurrently in waves bounded by
// MaxConcurrentSessions, and within a group messages go out serially with a
// fixed inter-message delay (the channel's anti-spam limits are per sender,
// not global).
type DispatchService struct {
	Targets   repository.TargetRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Configs   repository.ConfigRepositoryInterface
	Sessions  session.Provider
	Resolver  eligibility.AddressResolver
	Notifier  Notifier

	// MaxConcurrentSessions bounds how many sender sessions are open at
	// once (the wave size).
	MaxConcurrentSessions int
	// BatchSize is the page size for due-Target selection.
	BatchSize int
	// MessageInterval is the fixed delay between two sends on one session.
	MessageInterval time.Duration
	// DayInterval is the spacing between sequence days.
	DayInterval time.Duration

	Log zerolog.Logger
	Now func() time.Time
}

type DispatchStats struct {
	mu sync.Mutex

	Due           int
	Groups        int
	GroupsSkipped int
	Sent          int
	Delivered     int
	Failed        int
	Completed     int
}

func (st *DispatchStats) add(f func(*DispatchStats)) {
	st.mu.Lock()
	f(st)
	st.mu.Unlock()
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DispatchService) waveSize() int {
	if s.MaxConcurrentSessions > 0 {
		return s.MaxConcurrentSessions
	}
	return defaultWaveSize
}

func (s *DispatchService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultBatchSize
}

func (s *DispatchService) messageInterval() time.Duration {
	if s.MessageInterval > 0 {
		return s.MessageInterval
	}
	return defaultMessageInterval
}

func (s *DispatchService) dayInterval() time.Duration {
	if s.DayInterval > 0 {
		return s.DayInterval
	}
	return defaultDayInterval
}

// Run executes one dispatch cycle. Only a store failure selecting due
// Targets aborts the cycle; everything below is isolated per group and per
// message.
func (s *DispatchService) Run(ctx context.Context) (*DispatchStats, error) {
	now := s.now()
	stats := &DispatchStats{}

	due, err := s.collectDue(now)
	if err != nil {
		return stats, fmt.Errorf("select due targets: %w", err)
	}
	stats.Due = len(due)
	if len(due) == 0 {
		s.Log.Info().Msg("dispatch cycle: nothing due")
		return stats, nil
	}

	groups, senders := groupBySender(due)
	stats.Groups = len(senders)

	// Sender groups run concurrently in waves; the whole wave joins before
	// the next starts, which caps simultaneously open sessions.
	wave := s.waveSize()
	for start := 0; start < len(senders); start += wave {
		end := start + wave
		if end > len(senders) {
			end = len(senders)
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, senderID := range senders[start:end] {
			senderID := senderID
			targets := groups[senderID]
			g.Go(func() error {
				s.processGroup(gctx, senderID, targets, now, stats)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
	}

	s.Log.Info().
		Int("due", stats.Due).
		Int("groups", stats.Groups).
		Int("groups_skipped", stats.GroupsSkipped).
		Int("sent", stats.Sent).
		Int("delivered", stats.Delivered).
		Int("failed", stats.Failed).
		Int("completed", stats.Completed).
		Msg("dispatch cycle finished")
	return stats, nil
}

// collectDue pages through the due selection so no single query pulls the
// whole table.
func (s *DispatchService) collectDue(now time.Time) ([]*model.Target, error) {
	pageSize := s.batchSize()
	all := []*model.Target{}
	for offset := 0; ; offset += pageSize {
		page, err := s.Targets.ListDue(now, pageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func groupBySender(due []*model.Target) (map[string][]*model.Target, []string) {
	groups := map[string][]*model.Target{}
	for _, t := range due {
		groups[t.SenderID] = append(groups[t.SenderID], t)
	}
	senders := make([]string, 0, len(groups))
	for senderID := range groups {
		senders = append(senders, senderID)
	}
	sort.Strings(senders)
	for _, ts := range groups {
		sort.Slice(ts, func(i, j int) bool {
			if ts[i].CurrentDay != ts[j].CurrentDay {
				return ts[i].CurrentDay < ts[j].CurrentDay
			}
			return ts[i].NextMessageDue.Before(ts[j].NextMessageDue)
		})
	}
	return groups, senders
}

func (s *DispatchService) processGroup(ctx context.Context, senderID string, targets []*model.Target, now time.Time, stats *DispatchStats) {
	log := s.Log.With().Str("sender_id", senderID).Logger()

	cfg, err := s.Configs.Get(senderID)
	if err != nil {
		log.Warn().Err(err).Msg("config lookup failed, skipping group")
		stats.add(func(st *DispatchStats) { st.GroupsSkipped++ })
		return
	}

	// Blocked senders are skipped without a session or counter writes.
	if !cfg.Enabled || cfg.SendingPaused {
		stats.add(func(st *DispatchStats) { st.GroupsSkipped++ })
		return
	}
	// The default campaign has no row of its own; its pause flag lives on
	// the config, so its Targets are filtered out here the same way
	// enrollment filters the scope out.
	if cfg.DefaultCampaignPaused {
		scoped := targets[:0:0]
		for _, t := range targets {
			if t.CampaignID != nil {
				scoped = append(scoped, t)
			}
		}
		targets = scoped
		if len(targets) == 0 {
			stats.add(func(st *DispatchStats) { st.GroupsSkipped++ })
			return
		}
	}
	if cfg.AtDailyCap(now) {
		log.Debug().Int("cap", cfg.MaxMessagesPerDay).Msg("daily cap reached, skipping group")
		stats.add(func(st *DispatchStats) { st.GroupsSkipped++ })
		return
	}

	sess, err := s.Sessions.InitSession(ctx, senderID)
	if err != nil || sess == nil {
		log.Warn().Err(err).Msg("session open failed, skipping group")
		s.handleSessionFailure(ctx, cfg)
		stats.add(func(st *DispatchStats) { st.GroupsSkipped++ })
		return
	}
	// Free the concurrency slot even when the group errors mid-way.
	defer s.Sessions.DestroySession(senderID)

	if err := s.Configs.SetSessionStatus(senderID, model.SessionConnected); err != nil {
		log.Warn().Err(err).Msg("failed to record session status")
	}
	// A successful open re-arms the one-shot failure notification.
	if cfg.FailureNotificationSent {
		if err := s.Configs.SetFailureNotificationSent(senderID, false); err != nil {
			log.Warn().Err(err).Msg("failed to clear notification guard")
		}
	}

	sentToday := cfg.EffectiveSentToday(now)
	limiter := rate.NewLimiter(rate.Every(s.messageInterval()), 1)

	for _, t := range targets {
		if cfg.MaxMessagesPerDay > 0 && sentToday >= cfg.MaxMessagesPerDay {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		attempted, delivered, completed := s.processTarget(ctx, sess, cfg, t, log)
		if attempted {
			sentToday++
			stats.add(func(st *DispatchStats) {
				st.Sent++
				if delivered {
					st.Delivered++
				} else {
					st.Failed++
				}
				if completed {
					st.Completed++
				}
			})
		}
	}
}

func (s *DispatchService) handleSessionFailure(ctx context.Context, cfg *model.SenderConfig) {
	if err := s.Configs.SetSessionStatus(cfg.SenderID, model.SessionDisconnected); err != nil {
		s.Log.Warn().Err(err).Str("sender_id", cfg.SenderID).Msg("failed to record session status")
	}
	if cfg.FailureNotificationSent {
		return
	}
	if err := s.Notifier.NotifySessionFailure(ctx, cfg.SenderID); err != nil {
		s.Log.Warn().Err(err).Str("sender_id", cfg.SenderID).Msg("session failure notification failed")
		return
	}
	if err := s.Configs.SetFailureNotificationSent(cfg.SenderID, true); err != nil {
		s.Log.Warn().Err(err).Str("sender_id", cfg.SenderID).Msg("failed to set notification guard")
	}
}

// processTarget sends one message and advances the Target. Reported flags:
// attempted (a send happened, counting against the daily quota), delivered,
// and completed (the Target finished the sequence on this send).
func (s *DispatchService) processTarget(ctx context.Context, sess session.Session, cfg *model.SenderConfig, t *model.Target, log zerolog.Logger) (attempted, delivered, completed bool) {
	// Refresh first: the orchestrator may have exited the Target since the
	// due selection ran. Not a lock, just a cheap narrowing of the race;
	// the conditional writes below are the real protection.
	fresh, err := s.Targets.GetByID(t.ID)
	if err != nil {
		log.Warn().Err(err).Str("target_id", t.ID).Msg("target lookup failed")
		return false, false, false
	}
	if fresh.Status != model.TargetActive {
		return false, false, false
	}

	var campaign *model.Campaign
	if fresh.CampaignID != nil {
		campaign, err = s.Campaigns.GetByID(*fresh.CampaignID)
		if err != nil {
			log.Warn().Err(err).Str("target_id", t.ID).Msg("campaign lookup failed")
			return false, false, false
		}
	}

	rec, err := s.Resolver.Resolve(ctx, fresh.SenderID, fresh.RecipientID)
	if err != nil {
		log.Warn().Err(err).Str("target_id", t.ID).Msg("address resolution failed")
		return false, false, false
	}

	body, err := RenderFor(campaign, cfg, fresh.CurrentDay, rec)
	if err != nil {
		log.Warn().Err(err).Str("target_id", t.ID).Int("day", fresh.CurrentDay).Msg("template resolution failed")
		return false, false, false
	}

	sendErr := sess.Send(ctx, rec.Address, body, nil)
	sentAt := s.now()
	attempted = true

	attempt := &model.DeliveryAttempt{
		TargetID: fresh.ID,
		Day:      fresh.CurrentDay,
		SentAt:   sentAt,
		Outcome:  model.OutcomeDelivered,
	}
	if sendErr != nil {
		attempt.Outcome = model.OutcomeFailed
		attempt.ErrorDetail = sendErr.Error()
	}
	if err := s.Targets.RecordAttempt(attempt); err != nil {
		log.Warn().Err(err).Str("target_id", t.ID).Msg("failed to record delivery attempt")
	}
	// The daily counter counts attempts, success or failure.
	if err := s.Configs.IncrementSentToday(fresh.SenderID, 1, sentAt); err != nil {
		log.Warn().Err(err).Msg("failed to bump daily counter")
	}

	counters := model.CounterDelta{MessagesSent: 1}
	if sendErr != nil {
		// The Target stays active at the same day; the next cycle is the
		// retry.
		counters.MessagesFailed = 1
		log.Warn().Err(sendErr).Str("target_id", t.ID).Int("day", fresh.CurrentDay).Msg("delivery failed")
	} else {
		counters.MessagesDelivered = 1
		delivered = true
		if fresh.CurrentDay >= model.FinalDay {
			changed, err := s.Targets.CompleteIfActive(fresh.ID, model.ExitCompleted7Days, sentAt)
			if err != nil {
				log.Error().Err(err).Str("target_id", t.ID).Msg("failed to complete target")
			} else if changed {
				completed = true
				counters.TargetsCompleted = 1
			}
		} else {
			changed, err := s.Targets.AdvanceDay(fresh.ID, fresh.CurrentDay, sentAt, sentAt.Add(s.dayInterval()))
			if err != nil {
				log.Error().Err(err).Str("target_id", t.ID).Msg("failed to advance target")
			} else if !changed {
				// Exited concurrently mid-send; the message went out but
				// the state write is a no-op.
				log.Debug().Str("target_id", t.ID).Msg("target exited mid-dispatch, skipping advance")
			}
		}
	}

	if campaign != nil {
		if err := s.Campaigns.IncrementCounters(campaign.ID, counters); err != nil {
			log.Warn().Err(err).Str("campaign_id", campaign.ID).Msg("failed to bump campaign counters")
		}
	}
	return attempted, delivered, completed
}
