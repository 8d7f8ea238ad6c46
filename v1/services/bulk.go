package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/num-err/smartscan/audit"
	"github.com/num-err/smartscan/monitoring"
	"github.com/num-err/smartscan/v1/models"
	"golang.org/x/sync/errgroup"
)

// bulkCandidate is an entry that passed validation and awaits its image and QR payload
type bulkCandidate struct {
	index  int
	entry  *models.BulkMemberEntry
	member *models.Member
	err    error
}

// BulkCreate validates every entry, loads the photos concurrently and inserts the
// survivors with one batch write. Rejected entries are reported individually.
func (s *MemberService) BulkCreate(ctx context.Context, entries []models.BulkMemberEntry) (*models.BulkCreateResponse, error) {
	if maxEntries := s.cfg.Bulk.MaxEntries; maxEntries > 0 && len(entries) > maxEntries {
		return nil, models.NewValidationError("bulk request has %d entries, the limit is %d", len(entries), maxEntries)
	}

	resp := &models.BulkCreateResponse{
		Results: models.BulkResults{InsertedIDs: []int64{}},
		Errors:  []models.BulkEntryError{},
	}
	reject := func(index int, id *int64, err error) {
		resp.Errors = append(resp.Errors, models.BulkEntryError{Index: index, MemberID: id, Error: bulkErrorMessage(err, id)})
	}

	// Validation and duplicate detection run sequentially so the first occurrence of an id wins
	seen := make(map[int64]int, len(entries))
	candidates := make([]*bulkCandidate, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if err := validateBulkEntry(entry); err != nil {
			reject(i, entry.MemberID, err)
			continue
		}
		id := *entry.MemberID
		if first, dup := seen[id]; dup {
			reject(i, entry.MemberID, models.NewValidationError("duplicate id %d in request (first at index %d)", id, first))
			continue
		}
		seen[id] = i

		if _, err := s.repo.GetMemberByID(ctx, id); err == nil {
			reject(i, entry.MemberID, fmt.Errorf("%w: %d", models.ErrDuplicateMember, id))
			continue
		} else if !errors.Is(err, models.ErrMemberNotFound) {
			return nil, err
		}
		candidates = append(candidates, &bulkCandidate{index: i, entry: entry})
	}

	if err := s.prepareCandidates(ctx, candidates); err != nil {
		return nil, err
	}

	ready := make([]*bulkCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.err != nil {
			reject(c.index, c.entry.MemberID, c.err)
			continue
		}
		ready = append(ready, c)
	}

	inserted, err := s.insertCandidates(ctx, ready, reject)
	if err != nil {
		monitoring.RecordBusinessEvent("members_bulk_created", "failure")
		return nil, err
	}

	for _, c := range inserted {
		resp.Results.InsertedIDs = append(resp.Results.InsertedIDs, c.member.MemberID)
	}
	resp.Results.InsertedCount = len(inserted)
	sort.Slice(resp.Errors, func(i, j int) bool { return resp.Errors[i].Index < resp.Errors[j].Index })

	slog.Info("Bulk create completed",
		"requested", len(entries),
		"inserted", resp.Results.InsertedCount,
		"rejected", len(resp.Errors))
	monitoring.RecordBusinessEvent("members_bulk_created", "success")
	s.logEvent(ctx, audit.ActionMembersBulk, audit.StatusSuccess, nil, map[string]interface{}{
		"requested": len(entries),
		"inserted":  resp.Results.InsertedCount,
		"rejected":  len(resp.Errors),
	})
	return resp, nil
}

// prepareCandidates loads images and encodes QR payloads with bounded concurrency.
// Workers never touch the store; per-entry failures are kept on the candidate.
func (s *MemberService) prepareCandidates(ctx context.Context, candidates []*bulkCandidate) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.Bulk.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c.member, c.err = s.buildBulkMember(gctx, c.entry)
			return nil
		})
	}
	return g.Wait()
}

func (s *MemberService) buildBulkMember(ctx context.Context, entry *models.BulkMemberEntry) (*models.Member, error) {
	var image []byte
	var err error
	if entry.ImageData != nil {
		image, err = DecodeImageData(*entry.ImageData, s.cfg.MaxImageBytes)
	} else {
		image, err = s.images.Load(ctx, entry.ImagePath)
	}
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, models.NewValidationError("image is empty")
	}

	id := *entry.MemberID
	qrData, err := s.qr.Encode(id)
	if err != nil {
		return nil, err
	}

	return &models.Member{
		MemberID:    id,
		Name:        entry.Name,
		MaleCount:   *entry.MaleCount,
		FemaleCount: *entry.FemaleCount,
		SpecialCase: entry.SpecialCase,
		Image:       image,
		QRCodeData:  qrData,
	}, nil
}

// insertCandidates writes all candidates in one batch. If the batch loses a race on the
// unique index it falls back to single inserts so only the colliding entries are rejected.
func (s *MemberService) insertCandidates(ctx context.Context, ready []*bulkCandidate, reject func(int, *int64, error)) ([]*bulkCandidate, error) {
	if len(ready) == 0 {
		return nil, nil
	}

	members := make([]*models.Member, len(ready))
	for i, c := range ready {
		members[i] = c.member
	}

	err := s.repo.CreateMembers(ctx, members)
	if err == nil {
		return ready, nil
	}
	if !errors.Is(err, models.ErrDuplicateMember) {
		return nil, err
	}

	slog.Warn("Bulk batch hit a concurrent duplicate, inserting entries one by one", "entries", len(ready))
	inserted := make([]*bulkCandidate, 0, len(ready))
	for _, c := range ready {
		if _, err := s.repo.CreateMember(ctx, c.member); err != nil {
			if errors.Is(err, models.ErrDuplicateMember) {
				reject(c.index, c.entry.MemberID, err)
				continue
			}
			return nil, err
		}
		inserted = append(inserted, c)
	}
	return inserted, nil
}

func validateBulkEntry(entry *models.BulkMemberEntry) error {
	var missing []string
	if strings.TrimSpace(entry.Name) == "" {
		missing = append(missing, "name")
	}
	if entry.MemberID == nil {
		missing = append(missing, "id")
	}
	if entry.MaleCount == nil {
		missing = append(missing, "numberOfMaleMembers")
	}
	if entry.FemaleCount == nil {
		missing = append(missing, "numberOfFemaleMembers")
	}
	if entry.ImageData == nil && strings.TrimSpace(entry.ImagePath) == "" {
		missing = append(missing, "imagePath")
	}
	if len(missing) > 0 {
		return models.NewValidationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	return validateCounts(*entry.MaleCount, *entry.FemaleCount)
}

// bulkErrorMessage renders a per-entry error for the response; internal details are only logged
func bulkErrorMessage(err error, id *int64) string {
	switch {
	case errors.Is(err, models.ErrDuplicateMember) && id != nil:
		return fmt.Sprintf("member with ID %d already exists", *id)
	case errors.Is(err, models.ErrValidation):
		return strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	default:
		slog.Warn("Bulk entry failed", "error", err)
		return "failed to prepare entry"
	}
}
