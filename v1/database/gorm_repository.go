package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/num-err/smartscan/v1/models"
	"gorm.io/gorm"
)

const createBatchSize = 100

// GormRepository implements MemberRepository using GORM (works with SQLite or PostgreSQL)
type GormRepository struct {
	db           *gorm.DB
	queryTimeout time.Duration
}

// NewGormRepository creates a new repository and migrates the members table
func NewGormRepository(db *gorm.DB, queryTimeout time.Duration) *GormRepository {
	if err := db.AutoMigrate(&models.Member{}); err != nil {
		// The first real query will surface a broken schema
		slog.Warn("Failed to auto-migrate members table", "error", err)
	}
	return &GormRepository{db: db, queryTimeout: queryTimeout}
}

// CreateMember creates a new member record
func (r *GormRepository) CreateMember(ctx context.Context, member *models.Member) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(member).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, member.MemberID)
		}
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// CreateMembers inserts all members inside one transaction
func (r *GormRepository) CreateMembers(ctx context.Context, members []*models.Member) error {
	if len(members) == 0 {
		return nil
	}

	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(members, createBatchSize).Error
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: batch rejected", models.ErrDuplicateMember)
		}
		return fmt.Errorf("failed to create members: %w", err)
	}
	return nil
}

// GetMemberByID retrieves a member by its public identifier
func (r *GormRepository) GetMemberByID(ctx context.Context, memberID int64) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	return r.findByMemberID(r.db.WithContext(ctx), memberID)
}

func (r *GormRepository) findByMemberID(tx *gorm.DB, memberID int64) (*models.Member, error) {
	var member models.Member
	if err := tx.Where("member_id = ?", memberID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
		}
		return nil, fmt.Errorf("failed to retrieve member: %w", err)
	}
	return &member, nil
}

// UpdateMember writes the columns named by changes to the member stored under currentID.
// last_scan_time is never part of the column list.
func (r *GormRepository) UpdateMember(ctx context.Context, currentID int64, changes *models.MemberChanges) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	changes.Normalize()
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if changes.MemberID != nil {
		updates["member_id"] = *changes.MemberID
	}
	if changes.Name != nil {
		updates["name"] = *changes.Name
	}
	if changes.MaleCount != nil {
		updates["number_of_male_members"] = *changes.MaleCount
	}
	if changes.FemaleCount != nil {
		updates["number_of_female_members"] = *changes.FemaleCount
	}
	if changes.SpecialCase != nil {
		updates["special_case"] = *changes.SpecialCase
	}
	if changes.Image != nil {
		updates["image"] = changes.Image
	}
	if changes.QRCodeData != nil {
		updates["qrcode_data"] = *changes.QRCodeData
	}

	resultID := currentID
	if changes.MemberID != nil {
		resultID = *changes.MemberID
	}

	var updated *models.Member
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Member{}).Where("member_id = ?", currentID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", models.ErrMemberNotFound, currentID)
		}

		var err error
		updated, err = r.findByMemberID(tx, resultID)
		return err
	})
	if err != nil {
		switch {
		case isDuplicateKeyError(err):
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, resultID)
		case errors.Is(err, models.ErrMemberNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("failed to update member: %w", err)
		}
	}
	return updated, nil
}

// DeleteMember removes a member record
func (r *GormRepository) DeleteMember(ctx context.Context, memberID int64) error {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	result := r.db.WithContext(ctx).Where("member_id = ?", memberID).Delete(&models.Member{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", models.ErrMemberNotFound, memberID)
	}
	return nil
}

// ClaimScan performs the scan check-and-set as one conditional UPDATE.
// The preceding read only captures the pre-update record for the response.
func (r *GormRepository) ClaimScan(ctx context.Context, memberID int64, now, cutoff time.Time) (*models.Member, error) {
	ctx, cancel := withTimeout(ctx, r.queryTimeout)
	defer cancel()

	now = now.UTC()
	cutoff = cutoff.UTC()

	var before *models.Member
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		before, err = r.findByMemberID(tx, memberID)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Member{}).
			Where("member_id = ? AND (last_scan_time IS NULL OR last_scan_time <= ?)", memberID, cutoff).
			Updates(map[string]interface{}{
				"last_scan_time": now,
				"updated_at":     now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to record scan: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return models.ErrScanNotAllowed
		}
		return nil
	})

	switch {
	case err == nil:
		return before, nil
	case errors.Is(err, models.ErrScanNotAllowed):
		// Re-read outside the transaction so a concurrent winner's timestamp is reported
		current, getErr := r.findByMemberID(r.db.WithContext(ctx), memberID)
		if getErr != nil {
			return nil, getErr
		}
		return current, models.ErrScanNotAllowed
	default:
		return nil, err
	}
}

// Ping checks the underlying connection
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicateKeyError recognizes unique violations from SQLite and PostgreSQL,
// with or without GORM error translation enabled
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
