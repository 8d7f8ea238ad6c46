package testutil

import (
	"math/rand"

	"github.com/icrowley/fake"
	"github.com/num-err/smartscan/v1/models"
)

// SamplePhoto is a small non-empty photo payload
var SamplePhoto = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v
func StringPtr(v string) *string { return &v }

// NewCreateRequest builds a complete create request for id
func NewCreateRequest(id int64, name string) *models.CreateMemberRequest {
	return &models.CreateMemberRequest{
		Name:        name,
		MemberID:    Int64Ptr(id),
		MaleCount:   IntPtr(2),
		FemaleCount: IntPtr(1),
		SpecialCase: "None",
		Image:       append([]byte(nil), SamplePhoto...),
	}
}

// RandomMember builds a member with generated household details
func RandomMember(id int64) *models.Member {
	return &models.Member{
		MemberID:    id,
		Name:        fake.FullName(),
		MaleCount:   rand.Intn(6),
		FemaleCount: rand.Intn(6),
		SpecialCase: fake.Sentence(),
		Image:       []byte(fake.Word()),
		QRCodeData:  "data:image/png;base64," + fake.CharactersN(16),
	}
}

// RandomMembers builds n members with consecutive IDs starting at firstID
func RandomMembers(firstID int64, n int) []*models.Member {
	members := make([]*models.Member, n)
	for i := range members {
		members[i] = RandomMember(firstID + int64(i))
	}
	return members
}
