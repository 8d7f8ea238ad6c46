package database

import (
	"context"
	"time"

	"github.com/num-err/smartscan/v1/models"
)

// MemberRepository defines the database-agnostic interface for member records.
// Implementations enforce identifier uniqueness themselves (unique index) and
// translate driver errors into the models package sentinels.
type MemberRepository interface {
	// CreateMember inserts a new member. Returns models.ErrDuplicateMember on identifier collision.
	CreateMember(ctx context.Context, member *models.Member) (*models.Member, error)

	// CreateMembers inserts all members in a single batch write
	CreateMembers(ctx context.Context, members []*models.Member) error

	// GetMemberByID returns models.ErrMemberNotFound when absent
	GetMemberByID(ctx context.Context, memberID int64) (*models.Member, error)

	// UpdateMember writes only the fields set in changes to the record currently
	// stored under currentID and returns the stored result. LastScanTime is never written.
	UpdateMember(ctx context.Context, currentID int64, changes *models.MemberChanges) (*models.Member, error)

	// DeleteMember returns models.ErrMemberNotFound when absent
	DeleteMember(ctx context.Context, memberID int64) error

	// ClaimScan atomically sets LastScanTime to now when it is unset or not after cutoff,
	// and returns the record as it was before the write. When the condition does not hold
	// it returns the current record together with models.ErrScanNotAllowed.
	ClaimScan(ctx context.Context, memberID int64, now, cutoff time.Time) (*models.Member, error)

	// Ping checks connectivity for health reporting
	Ping(ctx context.Context) error
}

// withTimeout bounds a store call; a non-positive timeout leaves the context as is
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
