package testutil

import (
	"context"
	"sync"

	"github.com/num-err/smartscan/audit"
)

// MockAuditor records events synchronously so tests can assert on them
type MockAuditor struct {
	mu     sync.Mutex
	events []*audit.Event
}

// NewMockAuditor creates an enabled recording auditor
func NewMockAuditor() *MockAuditor {
	return &MockAuditor{}
}

// LogEvent stores the event
func (m *MockAuditor) LogEvent(_ context.Context, event *audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// IsEnabled always returns true
func (m *MockAuditor) IsEnabled() bool { return true }

// Actions returns the recorded actions in order
func (m *MockAuditor) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, len(m.events))
	for i, e := range m.events {
		actions[i] = e.Action
	}
	return actions
}

// Events returns the recorded events
func (m *MockAuditor) Events() []*audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*audit.Event(nil), m.events...)
}
