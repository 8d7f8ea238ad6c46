package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/num-err/smartscan/config"
	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/qrcode"
	"github.com/num-err/smartscan/v1/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistryConfig() config.RegistryConfig {
	cfg := config.DefaultRegistryConfig
	cfg.Bulk.Concurrency = 4
	return cfg
}

func bulkEntry(id int64, name, imagePath string) models.BulkMemberEntry {
	return models.BulkMemberEntry{
		Name:        name,
		MemberID:    testutil.Int64Ptr(id),
		MaleCount:   testutil.IntPtr(1),
		FemaleCount: testutil.IntPtr(2),
		ImagePath:   imagePath,
	}
}

func writePhoto(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("photo:"+name), 0o600))
	return path
}

func TestMemberService_BulkCreate(t *testing.T) {
	dir := t.TempDir()
	alice := writePhoto(t, dir, "alice.jpg")
	bob := writePhoto(t, dir, "bob.jpg")
	carol := writePhoto(t, dir, "carol.jpg")

	repo := testutil.NewMockRepository()
	auditor := testutil.NewMockAuditor()
	cfg := testRegistryConfig()
	service := NewMemberService(repo, WithRegistryConfig(&cfg), WithAuditor(auditor))
	ctx := context.Background()

	_, err := service.Create(ctx, testutil.NewCreateRequest(3, "Existing"))
	require.NoError(t, err)

	inline := base64.StdEncoding.EncodeToString([]byte("inline photo"))
	entries := []models.BulkMemberEntry{
		bulkEntry(1, "Alice", alice),
		bulkEntry(2, "Bob", bob),
		bulkEntry(1, "Alice again", alice),
		bulkEntry(3, "Existing again", carol),
		{Name: "", MemberID: testutil.Int64Ptr(4), MaleCount: testutil.IntPtr(0), FemaleCount: testutil.IntPtr(0), ImagePath: carol},
		bulkEntry(5, "Missing photo", filepath.Join(dir, "nobody.jpg")),
		{Name: "Inline", MemberID: testutil.Int64Ptr(6), MaleCount: testutil.IntPtr(0), FemaleCount: testutil.IntPtr(1), ImageData: &inline},
		bulkEntry(7, "Carol", carol),
	}

	resp, err := service.BulkCreate(ctx, entries)
	require.NoError(t, err)

	assert.Equal(t, 4, resp.Results.InsertedCount)
	assert.Equal(t, []int64{1, 2, 6, 7}, resp.Results.InsertedIDs)
	assert.Equal(t, 1, repo.BatchCalls, "survivors are written in one batch")

	require.Len(t, resp.Errors, 4)
	assert.Equal(t, 2, resp.Errors[0].Index)
	assert.Contains(t, resp.Errors[0].Error, "duplicate id 1 in request")
	assert.Equal(t, 3, resp.Errors[1].Index)
	assert.Equal(t, "member with ID 3 already exists", resp.Errors[1].Error)
	assert.Equal(t, 4, resp.Errors[2].Index)
	assert.Contains(t, resp.Errors[2].Error, "name")
	assert.Equal(t, 5, resp.Errors[3].Index)
	assert.Contains(t, resp.Errors[3].Error, "image not found")

	first, err := repo.GetMemberByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", first.Name, "first occurrence wins")
	assert.Equal(t, []byte("photo:alice.jpg"), first.Image)
	assert.Equal(t, models.DefaultSpecialCase, first.SpecialCase)
	assert.Nil(t, first.LastScanTime)
	decoded, err := qrcode.DecodePayload(first.QRCodeData)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decoded)

	inlined, err := repo.GetMemberByID(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("inline photo"), inlined.Image)

	events := auditor.Events()
	last := events[len(events)-1]
	assert.Equal(t, 4, last.Metadata["inserted"])
}

func TestMemberService_BulkCreateEmpty(t *testing.T) {
	repo := testutil.NewMockRepository()
	service := NewMemberService(repo)

	resp, err := service.BulkCreate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Results.InsertedCount)
	assert.NotNil(t, resp.Results.InsertedIDs)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, 0, repo.BatchCalls)
}

func TestMemberService_BulkCreateLimit(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.Bulk.MaxEntries = 2
	service := NewMemberService(testutil.NewMockRepository(), WithRegistryConfig(&cfg))

	entries := make([]models.BulkMemberEntry, 3)
	_, err := service.BulkCreate(context.Background(), entries)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestMemberService_BulkCreateObjectReferences(t *testing.T) {
	loader := &RoutingLoader{
		Objects: StaticLoader{"s3://photos/a.png": []byte("from bucket")},
	}
	repo := testutil.NewMockRepository()
	service := NewMemberService(repo, WithImageLoader(loader))

	resp, err := service.BulkCreate(context.Background(), []models.BulkMemberEntry{
		bulkEntry(1, "Bucket", "s3://photos/a.png"),
		bulkEntry(2, "Missing", "s3://photos/b.png"),
		bulkEntry(3, "Local", "/tmp/local.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, resp.Results.InsertedIDs)
	require.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Errors[0].Error, "image not found")
	assert.Contains(t, resp.Errors[1].Error, "file images are not enabled")

	m, err := repo.GetMemberByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("from bucket"), m.Image)
}

// racingRepository hides existing members from the pre-check, as if they were inserted concurrently
type racingRepository struct {
	*testutil.MockRepository
}

func (r *racingRepository) GetMemberByID(ctx context.Context, id int64) (*models.Member, error) {
	return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, id)
}

func TestMemberService_BulkCreateConcurrentDuplicate(t *testing.T) {
	mock := testutil.NewMockRepository()
	ctx := context.Background()
	_, err := mock.CreateMember(ctx, &models.Member{MemberID: 2, Name: "Winner"})
	require.NoError(t, err)

	loader := StaticLoader{"a": []byte("a"), "b": []byte("b"), "c": []byte("c")}
	service := NewMemberService(&racingRepository{mock}, WithImageLoader(loader))

	resp, err := service.BulkCreate(ctx, []models.BulkMemberEntry{
		bulkEntry(1, "One", "a"),
		bulkEntry(2, "Two", "b"),
		bulkEntry(3, "Three", "c"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, resp.Results.InsertedIDs)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, "member with ID 2 already exists", resp.Errors[0].Error)
	assert.Equal(t, 3, mock.Len())
}

func TestMemberService_BulkCreateStoreFailure(t *testing.T) {
	repo := testutil.NewMockRepository()
	service := NewMemberService(repo, WithImageLoader(StaticLoader{"a": []byte("a")}))
	repo.CreateErr = fmt.Errorf("connection reset")

	_, err := service.BulkCreate(context.Background(), []models.BulkMemberEntry{bulkEntry(1, "One", "a")})
	assert.Error(t, err)
}

func TestMemberService_BulkCreateSQLite(t *testing.T) {
	dir := t.TempDir()
	writePhoto(t, dir, "one.png")
	writePhoto(t, dir, "two.png")

	cfg := testRegistryConfig()
	cfg.Bulk.ImageBaseDir = dir
	service := newSQLiteService(t, WithRegistryConfig(&cfg))

	resp, err := service.BulkCreate(context.Background(), []models.BulkMemberEntry{
		bulkEntry(10, "One", "one.png"),
		bulkEntry(11, "Two", "two.png"),
		bulkEntry(12, "Escape", "../etc/passwd"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, resp.Results.InsertedIDs)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Error, "outside the image directory")

	m, err := service.repo.GetMemberByID(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("photo:two.png"), m.Image)
}
