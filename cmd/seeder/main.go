// cmd/seeder/main.go
package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/followup-backend/internal/config"
	"github.com/unclebandit/followup-backend/internal/db"
	"github.com/unclebandit/followup-backend/internal/logger"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
)

// Seeds a couple of senders and a pool of unpaid referrals for local runs.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	configRepo := &repository.ConfigRepository{DB: conn}
	referralRepo := &repository.ReferralRepository{DB: conn}

	senders := []string{"sender-alice", "sender-bob"}
	for _, senderID := range senders {
		err := configRepo.Upsert(&model.SenderConfig{
			SenderID:              senderID,
			Enabled:               true,
			MaxMessagesPerDay:     50,
			MaxTargetsPerCampaign: 500,
			SessionStatus:         model.SessionConnected,
			LastResetDate:         time.Now().UTC(),
		})
		if err != nil {
			log.Fatal().Err(err).Str("sender_id", senderID).Msg("seeding config failed")
		}
	}

	languages := []string{"en", "en", "es"}
	count := 0
	for i, senderID := range senders {
		for j := 0; j < 6; j++ {
			n := i*6 + j
			err := referralRepo.Create(&model.Referral{
				ID:            uuid.NewString(),
				SenderID:      senderID,
				RecipientID:   fmt.Sprintf("recipient-%03d", n),
				RecipientName: fmt.Sprintf("Prospect %d", n),
				Phone:         fmt.Sprintf("+15550%06d", n),
				Language:      languages[n%len(languages)],
				ReferredAt:    time.Now().Add(-time.Duration(2+n) * time.Hour),
			})
			if err != nil {
				log.Warn().Err(err).Int("n", n).Msg("seeding referral skipped")
				continue
			}
			count++
		}
	}

	log.Info().Int("senders", len(senders)).Int("referrals", count).Msg("seeding completed")
}
