package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultSpecialCase is stored when a member has no special case recorded
const DefaultSpecialCase = "None"

// Member represents a registered member household.
// RecordID is the storage key; MemberID is the public identifier encoded in the QR code.
type Member struct {
	RecordID uuid.UUID `gorm:"column:record_id;primaryKey" json:"-"`

	// MemberID is unique across the registry and may only change through an explicit update
	MemberID int64  `gorm:"column:member_id;not null;uniqueIndex:idx_members_member_id" json:"id"`
	Name     string `gorm:"column:name;type:varchar(255);not null" json:"name"`

	MaleCount   int    `gorm:"column:number_of_male_members;not null" json:"numberOfMaleMembers"`
	FemaleCount int    `gorm:"column:number_of_female_members;not null" json:"numberOfFemaleMembers"`
	SpecialCase string `gorm:"column:special_case;type:varchar(255);not null;default:'None'" json:"specialCase"`

	// Image holds the raw photo bytes. Serialized as base64 in JSON.
	Image []byte `gorm:"column:image;not null" json:"imageUrl"`

	// QRCodeData is derived from MemberID and never accepted from clients
	QRCodeData string `gorm:"column:qrcode_data;type:text;not null" json:"qrcodeData"`

	// LastScanTime is nil until the first successful gated read
	LastScanTime *time.Time `gorm:"column:last_scan_time;index:idx_members_last_scan_time" json:"lastScanTime"`

	BaseModel
}

// TableName sets the table name for Member model
func (Member) TableName() string {
	return "members"
}

// BeforeCreate hook to set default values
func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.RecordID == uuid.Nil {
		m.RecordID = uuid.New()
	}
	m.ApplyDefaults()
	return m.BaseModel.BeforeCreate(tx)
}

// ApplyDefaults normalizes optional fields before persistence
func (m *Member) ApplyDefaults() {
	m.Name = strings.TrimSpace(m.Name)
	if strings.TrimSpace(m.SpecialCase) == "" {
		m.SpecialCase = DefaultSpecialCase
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	c := *m
	if m.Image != nil {
		c.Image = append([]byte(nil), m.Image...)
	}
	if m.LastScanTime != nil {
		t := *m.LastScanTime
		c.LastScanTime = &t
	}
	return &c
}
