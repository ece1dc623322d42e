// cmd/worker/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/followup-backend/internal/config"
	"github.com/unclebandit/followup-backend/internal/db"
	"github.com/unclebandit/followup-backend/internal/eligibility"
	"github.com/unclebandit/followup-backend/internal/logger"
	"github.com/unclebandit/followup-backend/internal/queue"
	"github.com/unclebandit/followup-backend/internal/repository"
	"github.com/unclebandit/followup-backend/internal/service"
	"github.com/unclebandit/followup-backend/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	targetRepo := &repository.TargetRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	configRepo := &repository.ConfigRepository{DB: conn}
	referralRepo := &repository.ReferralRepository{DB: conn}

	collaborators := &eligibility.ReferralBacked{Referrals: referralRepo}

	campaignService := &service.CampaignService{
		Campaigns: campaignRepo,
		Targets:   targetRepo,
		Configs:   configRepo,
		Referrals: referralRepo,
		Log:       log,
	}

	enrollment := &service.EnrollmentService{
		Targets:       targetRepo,
		Campaigns:     campaignRepo,
		Configs:       configRepo,
		Referrals:     referralRepo,
		Subscriptions: eligibility.AllowAll{},
		Payments:      collaborators,
		GracePeriod:   cfg.EnrollmentGracePeriod,
		Log:           log,
	}

	dispatch := &service.DispatchService{
		Targets:   targetRepo,
		Campaigns: campaignRepo,
		Configs:   configRepo,
		// TODO: swap the mock for the gateway-backed session.Provider once
		// the channel client integration lands. Everything behind the
		// Provider interface is transport-agnostic.
		Sessions:              session.NewMockProvider(),
		Resolver:              collaborators,
		Notifier:              &service.LogNotifier{Log: log},
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		BatchSize:             cfg.DispatchBatchSize,
		MessageInterval:       cfg.MessageInterval,
		Log:                   log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err = c.AddFunc(cfg.EnrollmentSchedule, func() {
		// Campaign promotion and auto-completion ride the enrollment
		// cadence so scheduled campaigns start before candidates are
		// considered.
		if err := campaignService.PromoteScheduled(ctx); err != nil {
			log.Error().Err(err).Msg("campaign promotion failed")
		}
		if _, err := enrollment.Run(ctx); err != nil {
			log.Error().Err(err).Msg("enrollment cycle failed")
		}
		if err := campaignService.AutoCompleteExhausted(ctx); err != nil {
			log.Error().Err(err).Msg("campaign auto-completion failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid enrollment schedule")
	}
	_, err = c.AddFunc(cfg.DispatchSchedule, func() {
		if _, err := dispatch.Run(ctx); err != nil {
			log.Error().Err(err).Msg("dispatch cycle failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dispatch schedule")
	}
	c.Start()
	defer c.Stop()

	consumer := &queue.ExitEventConsumer{
		URL:       cfg.AMQPURL,
		QueueName: cfg.ExitEventsQueue,
		Campaigns: campaignService,
		Log:       log,
	}
	go func() {
		for {
			if err := consumer.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("exit event consumer stopped, reconnecting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}
	}()

	log.Info().
		Str("enrollment", cfg.EnrollmentSchedule).
		Str("dispatch", cfg.DispatchSchedule).
		Msg("worker running")
	<-ctx.Done()
	log.Info().Msg("worker shutting down")
}
