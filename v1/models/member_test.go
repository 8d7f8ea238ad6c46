package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMember_ApplyDefaults(t *testing.T) {
	m := &Member{Name: "  Alice ", SpecialCase: "  "}
	m.ApplyDefaults()
	assert.Equal(t, "Alice", m.Name)
	assert.Equal(t, DefaultSpecialCase, m.SpecialCase)

	m = &Member{Name: "Bob", SpecialCase: "Wheelchair"}
	m.ApplyDefaults()
	assert.Equal(t, "Wheelchair", m.SpecialCase)
}

func TestMember_Clone(t *testing.T) {
	scanned := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := &Member{MemberID: 1, Image: []byte{1, 2}, LastScanTime: &scanned}

	c := m.Clone()
	c.Image[0] = 9
	*c.LastScanTime = scanned.Add(time.Hour)

	assert.Equal(t, byte(1), m.Image[0])
	assert.True(t, m.LastScanTime.Equal(scanned))
	assert.Nil(t, (*Member)(nil).Clone())
}

func TestMember_JSON(t *testing.T) {
	m := &Member{MemberID: 1001, Name: "Alice", MaleCount: 2, FemaleCount: 1, SpecialCase: "None", Image: []byte("hi"), QRCodeData: "data:image/png;base64,AA=="}
	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(1001), body["id"])
	assert.Equal(t, "aGk=", body["imageUrl"])
	assert.Contains(t, body, "lastScanTime")
	assert.Nil(t, body["lastScanTime"])
	assert.NotContains(t, body, "RecordID")
}

func TestScanThrottledError(t *testing.T) {
	var err error = &ScanThrottledError{MemberID: 7, RetryAfter: 90 * time.Minute}
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, errors.Is(wrapped, ErrScanThrottled))
	assert.False(t, errors.Is(wrapped, ErrValidation))

	var throttled *ScanThrottledError
	require.True(t, errors.As(wrapped, &throttled))
	assert.Equal(t, 90*time.Minute, throttled.RetryAfter)
	assert.Contains(t, err.Error(), "member 7")
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("missing required fields: %s", "name")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "validation error: missing required fields: name", err.Error())
}

func TestMemberChanges_NormalizeAndApply(t *testing.T) {
	name := "  Carol "
	blank := " "
	changes := &MemberChanges{Name: &name, SpecialCase: &blank, Image: []byte("new")}
	changes.Normalize()
	assert.Equal(t, "Carol", *changes.Name)
	assert.Equal(t, DefaultSpecialCase, *changes.SpecialCase)
	assert.Equal(t, "  Carol ", name)

	m := &Member{MemberID: 7, Name: "Old", MaleCount: 3, FemaleCount: 2, SpecialCase: "Wheelchair", Image: []byte("old"), QRCodeData: "qr"}
	changes.Apply(m)
	assert.Equal(t, int64(7), m.MemberID)
	assert.Equal(t, "Carol", m.Name)
	assert.Equal(t, 3, m.MaleCount)
	assert.Equal(t, 2, m.FemaleCount)
	assert.Equal(t, DefaultSpecialCase, m.SpecialCase)
	assert.Equal(t, []byte("new"), m.Image)
	assert.Equal(t, "qr", m.QRCodeData)
}
