package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/num-err/smartscan/v1/models"
)

// MockRepository is an in-memory implementation of database.MemberRepository for testing.
// The *Err fields force the matching call to fail.
type MockRepository struct {
	mu      sync.Mutex
	members map[int64]*models.Member

	CreateErr error
	GetErr    error
	UpdateErr error
	DeleteErr error
	ClaimErr  error
	PingErr   error

	// BatchCalls counts CreateMembers invocations
	BatchCalls int
}

// NewMockRepository creates a new MockRepository instance
func NewMockRepository() *MockRepository {
	return &MockRepository{members: make(map[int64]*models.Member)}
}

func (m *MockRepository) prepare(member *models.Member) {
	if member.RecordID == uuid.Nil {
		member.RecordID = uuid.New()
	}
	member.ApplyDefaults()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	member.UpdatedAt = member.CreatedAt
}

// CreateMember stores a copy of member
func (m *MockRepository) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if _, ok := m.members[member.MemberID]; ok {
		return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, member.MemberID)
	}
	m.prepare(member)
	m.members[member.MemberID] = member.Clone()
	return member, nil
}

// CreateMembers stores all members or none of them
func (m *MockRepository) CreateMembers(ctx context.Context, members []*models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BatchCalls++
	if m.CreateErr != nil {
		return m.CreateErr
	}
	seen := make(map[int64]bool, len(members))
	for _, member := range members {
		if _, ok := m.members[member.MemberID]; ok || seen[member.MemberID] {
			return fmt.Errorf("%w: batch rejected", models.ErrDuplicateMember)
		}
		seen[member.MemberID] = true
	}
	for _, member := range members {
		m.prepare(member)
		m.members[member.MemberID] = member.Clone()
	}
	return nil
}

// GetMemberByID returns a copy of the stored member
func (m *MockRepository) GetMemberByID(ctx context.Context, memberID int64) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	member, ok := m.members[memberID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
	}
	return member.Clone(), nil
}

// UpdateMember applies the set fields to the stored record, keeping its scan time
func (m *MockRepository) UpdateMember(ctx context.Context, currentID int64, changes *models.MemberChanges) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	existing, ok := m.members[currentID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, currentID)
	}
	if changes.MemberID != nil && *changes.MemberID != currentID {
		if _, taken := m.members[*changes.MemberID]; taken {
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, *changes.MemberID)
		}
	}

	changes.Normalize()
	updated := existing.Clone()
	changes.Apply(updated)
	updated.UpdatedAt = time.Now().UTC()

	delete(m.members, currentID)
	m.members[updated.MemberID] = updated
	return updated.Clone(), nil
}

// DeleteMember removes the stored member
func (m *MockRepository) DeleteMember(ctx context.Context, memberID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.members[memberID]; !ok {
		return fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
	}
	delete(m.members, memberID)
	return nil
}

// ClaimScan applies the same conditional write as the SQL implementation under the mutex
func (m *MockRepository) ClaimScan(ctx context.Context, memberID int64, now, cutoff time.Time) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	member, ok := m.members[memberID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
	}
	if member.LastScanTime != nil && member.LastScanTime.After(cutoff) {
		return member.Clone(), models.ErrScanNotAllowed
	}

	before := member.Clone()
	scanned := now.UTC()
	member.LastScanTime = &scanned
	member.UpdatedAt = scanned
	return before, nil
}

// Ping returns PingErr
func (m *MockRepository) Ping(ctx context.Context) error {
	return m.PingErr
}

// Len returns the number of stored members
func (m *MockRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

// SetLastScanTime overwrites a stored scan time, for window tests
func (m *MockRepository) SetLastScanTime(memberID int64, t *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[memberID]; ok {
		member.LastScanTime = t
	}
}
