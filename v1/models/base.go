package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel contains the store-maintained timestamps shared by all models
type BaseModel struct {
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// BeforeCreate GORM hook for BaseModel
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt
	return nil
}

// Touch sets UpdatedAt to the given instant
func (b *BaseModel) Touch(now time.Time) {
	b.UpdatedAt = now.UTC()
}
