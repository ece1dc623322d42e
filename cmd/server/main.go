// cmd/server/main.go
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/followup-backend/internal/config"
	"github.com/unclebandit/followup-backend/internal/controller"
	"github.com/unclebandit/followup-backend/internal/db"
	"github.com/unclebandit/followup-backend/internal/handler"
	"github.com/unclebandit/followup-backend/internal/logger"
	"github.com/unclebandit/followup-backend/internal/repository"
	"github.com/unclebandit/followup-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	targetRepo := &repository.TargetRepository{DB: conn}
	campaignRepo := &repository.CampaignRepository{DB: conn}
	configRepo := &repository.ConfigRepository{DB: conn}
	referralRepo := &repository.ReferralRepository{DB: conn}

	campaignService := &service.CampaignService{
		Campaigns: campaignRepo,
		Targets:   targetRepo,
		Configs:   configRepo,
		Referrals: referralRepo,
		Log:       log,
	}

	campaignController := &controller.CampaignController{CampaignService: campaignService}
	targetController := &controller.TargetController{Targets: targetRepo}
	configController := &controller.ConfigController{Configs: configRepo}
	webhookHandler := &handler.WebhookHandler{Campaigns: campaignService}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Post("/campaigns/preview", campaignController.PreviewFilter)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Post("/campaigns/{id}/start", campaignController.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", campaignController.CancelCampaign)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	r.Get("/targets", targetController.ListTargets)
	r.Get("/targets/{id}", targetController.GetTarget)

	r.Get("/configs/{senderId}", configController.GetConfig)
	r.Put("/configs/{senderId}", configController.UpdateConfig)

	r.Post("/webhooks/payment", webhookHandler.Payment)
	r.Post("/webhooks/subscription-expired", webhookHandler.SubscriptionExpired)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
