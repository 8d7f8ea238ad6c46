package models

import (
	"strings"
	"time"
)

// CreateMemberRequest is the typed form of a member creation payload.
// Counts are pointers so that "missing" can be told apart from zero.
type CreateMemberRequest struct {
	Name        string
	MemberID    *int64
	MaleCount   *int
	FemaleCount *int
	SpecialCase string
	Image       []byte
}

// UpdateMemberRequest is a partial update; nil fields are left untouched
type UpdateMemberRequest struct {
	Name        *string `json:"name,omitempty"`
	MemberID    *int64  `json:"id,omitempty"`
	MaleCount   *int    `json:"numberOfMaleMembers,omitempty"`
	FemaleCount *int    `json:"numberOfFemaleMembers,omitempty"`
	SpecialCase *string `json:"specialCase,omitempty"`
	// ImageData is the base64 encoded replacement photo
	ImageData *string `json:"imageData,omitempty"`
}

// MemberChanges lists the fields an update writes. Nil fields keep their stored value.
type MemberChanges struct {
	MemberID    *int64
	Name        *string
	MaleCount   *int
	FemaleCount *int
	SpecialCase *string
	Image       []byte
	QRCodeData  *string
}

// Normalize applies the same trimming and defaults as Member.ApplyDefaults
func (c *MemberChanges) Normalize() {
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		c.Name = &name
	}
	if c.SpecialCase != nil && strings.TrimSpace(*c.SpecialCase) == "" {
		special := DefaultSpecialCase
		c.SpecialCase = &special
	}
}

// Apply copies the set fields onto m
func (c *MemberChanges) Apply(m *Member) {
	if c.MemberID != nil {
		m.MemberID = *c.MemberID
	}
	if c.Name != nil {
		m.Name = *c.Name
	}
	if c.MaleCount != nil {
		m.MaleCount = *c.MaleCount
	}
	if c.FemaleCount != nil {
		m.FemaleCount = *c.FemaleCount
	}
	if c.SpecialCase != nil {
		m.SpecialCase = *c.SpecialCase
	}
	if c.Image != nil {
		m.Image = append([]byte(nil), c.Image...)
	}
	if c.QRCodeData != nil {
		m.QRCodeData = *c.QRCodeData
	}
}

// BulkMemberEntry is one element of a bulk create request.
// The photo is read from ImagePath (local file or s3://bucket/key) unless ImageData is given inline.
type BulkMemberEntry struct {
	Name        string  `json:"name"`
	MemberID    *int64  `json:"id"`
	MaleCount   *int    `json:"numberOfMaleMembers"`
	FemaleCount *int    `json:"numberOfFemaleMembers"`
	SpecialCase string  `json:"specialCase"`
	ImagePath   string  `json:"imagePath,omitempty"`
	ImageData   *string `json:"imageData,omitempty"`
}

// BulkEntryError reports why a single bulk entry was rejected
type BulkEntryError struct {
	Index    int    `json:"index"`
	MemberID *int64 `json:"id,omitempty"`
	Error    string `json:"error"`
}

// BulkResults summarizes the batch write
type BulkResults struct {
	InsertedCount int     `json:"insertedCount"`
	InsertedIDs   []int64 `json:"insertedIds"`
}

// BulkCreateResponse is returned by POST /api/v1/members/bulk
type BulkCreateResponse struct {
	Results BulkResults      `json:"results"`
	Errors  []BulkEntryError `json:"errors"`
}

// MessageResponse is a plain confirmation body
type MessageResponse struct {
	Message string `json:"message"`
}

// ThrottledResponse is the error body for a denied scan
type ThrottledResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RetryAfterSeconds int64     `json:"retryAfterSeconds"`
	NextScanAt        time.Time `json:"nextScanAt"`
}
