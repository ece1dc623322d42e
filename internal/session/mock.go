package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// MockProvider simulates the messaging channel for development and tests.
// Failure behavior is configurable per sender.
type MockProvider struct {
	mu          sync.Mutex
	open        map[string]bool
	FailInit    map[string]bool
	SendFailure float64 // probability a send fails, 0..1
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		open:     map[string]bool{},
		FailInit: map[string]bool{},
	}
}

func (p *MockProvider) InitSession(ctx context.Context, senderID string) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailInit[senderID] {
		return nil, fmt.Errorf("session init failed for sender %s", senderID)
	}
	p.open[senderID] = true
	return &mockSession{provider: p, senderID: senderID}, nil
}

func (p *MockProvider) DestroySession(senderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.open, senderID)
}

// OpenCount reports how many sessions are currently open.
func (p *MockProvider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

type mockSession struct {
	provider *MockProvider
	senderID string
}

func (s *mockSession) Send(ctx context.Context, recipientAddress, body string, media []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.provider.SendFailure > 0 && rand.Float64() < s.provider.SendFailure {
		return fmt.Errorf("mock send to %s failed", recipientAddress)
	}
	return nil
}
