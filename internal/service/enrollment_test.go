package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/followup-backend/internal/eligibility"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/service"
)

type enrollmentFixture struct {
	targets   *memTargets
	campaigns *memCampaigns
	configs   *memConfigs
	referrals *memReferrals
	svc       *service.EnrollmentService
	now       time.Time
}

func newEnrollmentFixture(t *testing.T) *enrollmentFixture {
	t.Helper()
	f := &enrollmentFixture{
		targets:   newMemTargets(),
		campaigns: newMemCampaigns(),
		configs:   newMemConfigs(),
		referrals: newMemReferrals(),
		now:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = &service.EnrollmentService{
		Targets:       f.targets,
		Campaigns:     f.campaigns,
		Configs:       f.configs,
		Referrals:     f.referrals,
		Subscriptions: eligibility.AllowAll{},
		Payments:      &eligibility.ReferralBacked{Referrals: f.referrals},
		GracePeriod:   time.Hour,
		Log:           zerolog.Nop(),
		Now:           func() time.Time { return f.now },
	}
	return f
}

func (f *enrollmentFixture) addSender(senderID string) {
	f.configs.Upsert(&model.SenderConfig{
		SenderID:      senderID,
		Enabled:       true,
		SessionStatus: model.SessionConnected,
	})
}

func (f *enrollmentFixture) addReferral(senderID, recipientID, language string, age time.Duration) {
	f.referrals.Create(&model.Referral{
		ID:            recipientID + "-ref",
		SenderID:      senderID,
		RecipientID:   recipientID,
		RecipientName: "Recipient " + recipientID,
		Phone:         "+1555" + recipientID,
		Language:      language,
		ReferredAt:    f.now.Add(-age),
	})
}

func TestEnrollmentCreatesDayOneTarget(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.addSender("sender-1")
	f.addReferral("sender-1", "rec-1", "en", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enrolled)

	targets, _, err := f.targets.List("sender-1", "", 0, 10)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	got := targets[0]
	assert.Equal(t, "rec-1", got.RecipientID)
	assert.Equal(t, 1, got.CurrentDay)
	assert.Equal(t, model.TargetActive, got.Status)
	assert.Nil(t, got.CampaignID)
	assert.True(t, got.NextMessageDue.Equal(f.now), "first message is due immediately")
}

func TestEnrollmentIsIdempotent(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.addSender("sender-1")
	f.addReferral("sender-1", "rec-1", "en", 2*time.Hour)
	f.addReferral("sender-1", "rec-2", "en", 3*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Enrolled)

	stats, err = f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Enrolled, "second run with unchanged state enrolls nothing")

	_, total, err := f.targets.List("sender-1", "", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestEnrollmentHonorsGracePeriod(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.addSender("sender-1")
	f.addReferral("sender-1", "rec-fresh", "en", 10*time.Minute)
	f.addReferral("sender-1", "rec-old", "en", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enrolled)

	targets, _, _ := f.targets.List("sender-1", "", 0, 10)
	require.Len(t, targets, 1)
	assert.Equal(t, "rec-old", targets[0].RecipientID)
}

func TestEnrollmentSkipsPaidRecipients(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.addSender("sender-1")
	f.addReferral("sender-1", "rec-1", "en", 2*time.Hour)
	_, err := f.referrals.MarkPaid("rec-1", f.now)
	require.NoError(t, err)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Enrolled)
}

func TestEnrollmentSkipsPausedAndDisconnectedSenders(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.configs.Upsert(&model.SenderConfig{
		SenderID:         "sender-paused",
		Enabled:          true,
		EnrollmentPaused: true,
		SessionStatus:    model.SessionConnected,
	})
	f.configs.Upsert(&model.SenderConfig{
		SenderID:      "sender-offline",
		Enabled:       true,
		SessionStatus: model.SessionDisconnected,
	})
	f.addReferral("sender-paused", "rec-1", "en", 2*time.Hour)
	f.addReferral("sender-offline", "rec-2", "en", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Senders)
	assert.Equal(t, 0, stats.Enrolled)
}

func TestEnrollmentSkipsDefaultScopeWhenPaused(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.configs.Upsert(&model.SenderConfig{
		SenderID:              "sender-1",
		Enabled:               true,
		SessionStatus:         model.SessionConnected,
		DefaultCampaignPaused: true,
	})
	f.addReferral("sender-1", "rec-1", "en", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Enrolled)
}

func TestEnrollmentFilteredCampaignMatchesLanguage(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.configs.Upsert(&model.SenderConfig{
		SenderID:              "sender-1",
		Enabled:               true,
		SessionStatus:         model.SessionConnected,
		DefaultCampaignPaused: true,
	})
	f.campaigns.Create(&model.Campaign{
		ID:       "camp-es",
		SenderID: "sender-1",
		Type:     model.CampaignFiltered,
		Status:   model.CampaignActive,
		Filter:   &model.TargetFilter{Languages: []string{"es"}},
	})
	f.addReferral("sender-1", "rec-en", "en", 2*time.Hour)
	f.addReferral("sender-1", "rec-es", "es", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Enrolled)

	targets, _, _ := f.targets.List("sender-1", "", 0, 10)
	require.Len(t, targets, 1)
	assert.Equal(t, "rec-es", targets[0].RecipientID)
	require.NotNil(t, targets[0].CampaignID)
	assert.Equal(t, "camp-es", *targets[0].CampaignID)

	c, err := f.campaigns.GetByID("camp-es")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TargetsEnrolled)
}

func TestEnrollmentStopsAtCampaignCeiling(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.configs.Upsert(&model.SenderConfig{
		SenderID:              "sender-1",
		Enabled:               true,
		SessionStatus:         model.SessionConnected,
		DefaultCampaignPaused: true,
	})
	f.campaigns.Create(&model.Campaign{
		ID:         "camp-1",
		SenderID:   "sender-1",
		Type:       model.CampaignFiltered,
		Status:     model.CampaignActive,
		MaxTargets: 2,
	})
	for _, rec := range []string{"rec-1", "rec-2", "rec-3"} {
		f.addReferral("sender-1", rec, "en", 2*time.Hour)
	}

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Enrolled)

	count, err := f.targets.CountByCampaign("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEnrollmentDefaultAndFilteredScopesAreIndependent(t *testing.T) {
	f := newEnrollmentFixture(t)
	f.configs.Upsert(&model.SenderConfig{
		SenderID:                   "sender-1",
		Enabled:                    true,
		SessionStatus:              model.SessionConnected,
		AllowSimultaneousCampaigns: true,
	})
	f.campaigns.Create(&model.Campaign{
		ID:       "camp-1",
		SenderID: "sender-1",
		Type:     model.CampaignFiltered,
		Status:   model.CampaignActive,
	})
	f.addReferral("sender-1", "rec-1", "en", 2*time.Hour)

	stats, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Enrolled, "one target per scope")

	inCampaign, err := f.targets.CountByCampaign("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inCampaign)

	active, err := f.targets.HasActiveInScope("rec-1", model.DefaultScope("sender-1"))
	require.NoError(t, err)
	assert.True(t, active)
}
