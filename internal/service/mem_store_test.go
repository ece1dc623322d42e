package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/unclebandit/followup-backend/internal/errors"
	"github.com/unclebandit/followup-backend/internal/model"
	"github.com/unclebandit/followup-backend/internal/repository"
	"github.com/unclebandit/followup-backend/internal/session"
)

// In-memory stores backing the scheduler tests. They mirror the conditional
// update semantics of the SQL repositories so the race-handling paths are
// exercised for real.

type memTargets struct {
	mu       sync.Mutex
	targets  map[string]*model.Target
	attempts map[string][]model.DeliveryAttempt
}

func newMemTargets() *memTargets {
	return &memTargets{
		targets:  map[string]*model.Target{},
		attempts: map[string][]model.DeliveryAttempt{},
	}
}

func (m *memTargets) Create(t *model.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.targets[t.ID] = &cp
	return nil
}

func (m *memTargets) GetByID(id string) (*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, appErrors.NewTargetNotFound(id)
	}
	cp := *t
	return &cp, nil
}

func (m *memTargets) HasActiveInScope(recipientID string, scope model.Scope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.RecipientID == recipientID && t.SenderID == scope.SenderID && t.Status == model.TargetActive && sameCampaign(t.CampaignID, scope.CampaignID) {
			return true, nil
		}
	}
	return false, nil
}

func sameCampaign(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memTargets) ListDue(now time.Time, limit, offset int) ([]*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.Target{}
	for _, t := range m.targets {
		if t.Status == model.TargetActive && !t.NextMessageDue.After(now) && t.CurrentDay <= model.FinalDay {
			cp := *t
			due = append(due, &cp)
		}
	}
	if offset >= len(due) {
		return []*model.Target{}, nil
	}
	end := offset + limit
	if end > len(due) {
		end = len(due)
	}
	return due[offset:end], nil
}

func (m *memTargets) List(senderID string, status model.TargetStatus, offset, limit int) ([]*model.Target, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Target{}
	for _, t := range m.targets {
		if (senderID == "" || t.SenderID == senderID) && (status == "" || t.Status == status) {
			cp := *t
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*model.Target{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *memTargets) CountByCampaign(campaignID string, statuses ...model.TargetStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.targets {
		if t.CampaignID == nil || *t.CampaignID != campaignID {
			continue
		}
		if len(statuses) == 0 {
			count++
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *memTargets) ExistsInCampaign(recipientID, campaignID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.RecipientID == recipientID && t.CampaignID != nil && *t.CampaignID == campaignID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTargets) StatusCountsByCampaign(campaignID string) (map[model.TargetStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[model.TargetStatus]int{}
	for _, t := range m.targets {
		if t.CampaignID != nil && *t.CampaignID == campaignID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (m *memTargets) AdvanceDay(id string, fromDay int, sentAt, nextDue time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok || t.Status != model.TargetActive || t.CurrentDay != fromDay {
		return false, nil
	}
	t.CurrentDay++
	sent := sentAt
	t.LastMessageSentAt = &sent
	t.NextMessageDue = nextDue
	return true, nil
}

func (m *memTargets) CompleteIfActive(id string, reason model.ExitReason, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[id]
	if !ok || t.Status != model.TargetActive {
		return false, nil
	}
	complete(t, reason, at)
	return true, nil
}

func complete(t *model.Target, reason model.ExitReason, at time.Time) {
	t.Status = model.TargetCompleted
	r := reason
	t.ExitReason = &r
	exited := at
	t.ExitedAt = &exited
}

func (m *memTargets) SetStatusByCampaign(campaignID string, from, to model.TargetStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.targets {
		if t.CampaignID != nil && *t.CampaignID == campaignID && t.Status == from {
			t.Status = to
			n++
		}
	}
	return n, nil
}

func (m *memTargets) CompleteByCampaign(campaignID string, reason model.ExitReason, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.targets {
		if t.CampaignID != nil && *t.CampaignID == campaignID && (t.Status == model.TargetActive || t.Status == model.TargetPaused) {
			complete(t, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *memTargets) CompleteActiveByRecipient(recipientID string, reason model.ExitReason, at time.Time) ([]*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exited := []*model.Target{}
	for _, t := range m.targets {
		if t.RecipientID == recipientID && t.Status == model.TargetActive {
			complete(t, reason, at)
			cp := *t
			exited = append(exited, &cp)
		}
	}
	return exited, nil
}

func (m *memTargets) CompleteActiveBySender(senderID string, reason model.ExitReason, at time.Time) ([]*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exited := []*model.Target{}
	for _, t := range m.targets {
		if t.SenderID == senderID && (t.Status == model.TargetActive || t.Status == model.TargetPaused) {
			complete(t, reason, at)
			cp := *t
			exited = append(exited, &cp)
		}
	}
	return exited, nil
}

func (m *memTargets) RecordAttempt(a *model.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.attempts[a.TargetID]) + 1)
	m.attempts[a.TargetID] = append(m.attempts[a.TargetID], *a)
	return nil
}

func (m *memTargets) ListAttempts(targetID string) ([]model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DeliveryAttempt{}, m.attempts[targetID]...), nil
}

var _ repository.TargetRepositoryInterface = (*memTargets)(nil)

type memCampaigns struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
}

func newMemCampaigns() *memCampaigns {
	return &memCampaigns{campaigns: map[string]*model.Campaign{}}
}

func (m *memCampaigns) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memCampaigns) GetByID(id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaigns) Update(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memCampaigns) UpdateStatusFrom(id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memCampaigns) ListBySender(senderID string, statuses ...model.CampaignStatus) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.SenderID != senderID {
			continue
		}
		if len(statuses) == 0 {
			cp := *c
			out = append(out, &cp)
			continue
		}
		for _, s := range statuses {
			if c.Status == s {
				cp := *c
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memCampaigns) ListByStatus(status model.CampaignStatus) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCampaigns) ListCampaigns(offset, limit int, senderID string, status model.CampaignStatus) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if (senderID == "" || c.SenderID == senderID) && (status == "" || c.Status == status) {
			cp := *c
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *memCampaigns) IncrementCounters(id string, d model.CounterDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %s not found", id)
	}
	c.TargetsEnrolled += d.TargetsEnrolled
	c.MessagesSent += d.MessagesSent
	c.MessagesDelivered += d.MessagesDelivered
	c.MessagesFailed += d.MessagesFailed
	c.TargetsCompleted += d.TargetsCompleted
	c.TargetsExited += d.TargetsExited
	return nil
}

var _ repository.CampaignRepositoryInterface = (*memCampaigns)(nil)

type memConfigs struct {
	mu      sync.Mutex
	configs map[string]*model.SenderConfig
}

func newMemConfigs() *memConfigs {
	return &memConfigs{configs: map[string]*model.SenderConfig{}}
}

func (m *memConfigs) Get(senderID string) (*model.SenderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[senderID]
	if !ok {
		return nil, appErrors.NewConfigNotFound(senderID)
	}
	cp := *c
	return &cp, nil
}

func (m *memConfigs) Upsert(c *model.SenderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.configs[c.SenderID] = &cp
	return nil
}

func (m *memConfigs) ListEnrollable() ([]*model.SenderConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.SenderConfig{}
	for _, c := range m.configs {
		if c.Enabled && !c.EnrollmentPaused && c.SessionStatus == model.SessionConnected {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memConfigs) SetDefaultCampaignPaused(senderID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[senderID]; ok {
		c.DefaultCampaignPaused = paused
	}
	return nil
}

func (m *memConfigs) SetSessionStatus(senderID string, status model.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[senderID]; ok {
		c.SessionStatus = status
	}
	return nil
}

func (m *memConfigs) SetFailureNotificationSent(senderID string, sent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.configs[senderID]; ok {
		c.FailureNotificationSent = sent
	}
	return nil
}

func (m *memConfigs) IncrementSentToday(senderID string, n int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[senderID]
	if !ok {
		return fmt.Errorf("config for sender %s not found", senderID)
	}
	day := now.UTC().Truncate(24 * time.Hour)
	if c.LastResetDate.Before(day) {
		c.MessagesSentToday = n
	} else {
		c.MessagesSentToday += n
	}
	c.LastResetDate = day
	return nil
}

var _ repository.ConfigRepositoryInterface = (*memConfigs)(nil)

type memReferrals struct {
	mu        sync.Mutex
	referrals []*model.Referral
}

func newMemReferrals() *memReferrals { return &memReferrals{} }

func (m *memReferrals) Create(ref *model.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ref
	m.referrals = append(m.referrals, &cp)
	return nil
}

func (m *memReferrals) GetByRecipient(senderID, recipientID string) (*model.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.SenderID == senderID && r.RecipientID == recipientID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memReferrals) ListUnpaidOlderThan(senderID string, before time.Time) ([]*model.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Referral{}
	for _, r := range m.referrals {
		if r.SenderID == senderID && !r.Paid && !r.ReferredAt.After(before) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memReferrals) ListMatching(senderID string, filter *model.TargetFilter, limit int) ([]*model.Referral, error) {
	refs, err := m.ListUnpaidOlderThan(senderID, time.Now().Add(24*time.Hour))
	if err != nil {
		return nil, err
	}
	out := []*model.Referral{}
	for _, r := range refs {
		if filter.Matches(r) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memReferrals) CountMatching(senderID string, filter *model.TargetFilter) (int, error) {
	out, err := m.ListMatching(senderID, filter, 0)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

func (m *memReferrals) MarkPaid(recipientID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.referrals {
		if r.RecipientID == recipientID && !r.Paid {
			r.Paid = true
			paidAt := at
			r.PaidAt = &paidAt
			n++
		}
	}
	return n, nil
}

var _ repository.ReferralRepositoryInterface = (*memReferrals)(nil)

// fakeProvider records sends and simulates per-sender init failures and
// per-recipient send failures.
type fakeProvider struct {
	mu         sync.Mutex
	failInit   map[string]bool
	failSendTo map[string]bool
	sends      []sentMessage
	open       int
	maxOpen    int
	onSend     func(senderID, address string)
}

type sentMessage struct {
	SenderID string
	Address  string
	Body     string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		failInit:   map[string]bool{},
		failSendTo: map[string]bool{},
	}
}

func (p *fakeProvider) InitSession(ctx context.Context, senderID string) (session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failInit[senderID] {
		return nil, fmt.Errorf("session init failed for %s", senderID)
	}
	p.open++
	if p.open > p.maxOpen {
		p.maxOpen = p.open
	}
	return &fakeSession{provider: p, senderID: senderID}, nil
}

func (p *fakeProvider) DestroySession(senderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open--
}

type fakeSession struct {
	provider *fakeProvider
	senderID string
}

func (s *fakeSession) Send(ctx context.Context, recipientAddress, body string, media []string) error {
	p := s.provider
	p.mu.Lock()
	hook := p.onSend
	fail := p.failSendTo[recipientAddress]
	p.mu.Unlock()
	if hook != nil {
		hook(s.senderID, recipientAddress)
	}
	if fail {
		return fmt.Errorf("send to %s rejected", recipientAddress)
	}
	p.mu.Lock()
	p.sends = append(p.sends, sentMessage{SenderID: s.senderID, Address: recipientAddress, Body: body})
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) NotifySessionFailure(ctx context.Context, senderID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, senderID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}
