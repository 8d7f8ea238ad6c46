package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/num-err/smartscan/audit"
	"github.com/num-err/smartscan/config"
	"github.com/num-err/smartscan/monitoring"
	"github.com/num-err/smartscan/v1/database"
	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/policy"
	"github.com/num-err/smartscan/v1/qrcode"
)

// MemberService handles member registration and the scan-gated read
type MemberService struct {
	repo    database.MemberRepository
	qr      *qrcode.Generator
	images  ImageLoader
	auditor audit.Auditor
	cfg     config.RegistryConfig
}

// Option configures optional MemberService collaborators
type Option func(*MemberService)

// WithImageLoader sets the loader used for bulk imagePath references
func WithImageLoader(loader ImageLoader) Option {
	return func(s *MemberService) { s.images = loader }
}

// WithAuditor sets the audit sink
func WithAuditor(a audit.Auditor) Option {
	return func(s *MemberService) { s.auditor = a }
}

// WithRegistryConfig overrides the default limits
func WithRegistryConfig(cfg *config.RegistryConfig) Option {
	return func(s *MemberService) {
		if cfg != nil {
			s.cfg = *cfg
		}
	}
}

// NewMemberService creates a new member service instance
func NewMemberService(repo database.MemberRepository, opts ...Option) *MemberService {
	s := &MemberService{
		repo:    repo,
		auditor: audit.NoopAuditor{},
		cfg:     config.DefaultRegistryConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.qr = qrcode.NewGenerator(s.cfg.QR.Size)
	if s.images == nil {
		s.images = &RoutingLoader{Files: &FileLoader{BaseDir: s.cfg.Bulk.ImageBaseDir, MaxBytes: s.cfg.MaxImageBytes}}
	}
	return s
}

// Ping reports store connectivity
func (s *MemberService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Create registers a new member and generates its QR payload
func (s *MemberService) Create(ctx context.Context, req *models.CreateMemberRequest) (*models.Member, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}
	id := *req.MemberID

	// Fast path only; the unique index decides
	if _, err := s.repo.GetMemberByID(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, id)
	} else if !errors.Is(err, models.ErrMemberNotFound) {
		return nil, err
	}

	qrData, err := s.qr.Encode(id)
	if err != nil {
		return nil, err
	}

	member := &models.Member{
		MemberID:    id,
		Name:        req.Name,
		MaleCount:   *req.MaleCount,
		FemaleCount: *req.FemaleCount,
		SpecialCase: req.SpecialCase,
		Image:       req.Image,
		QRCodeData:  qrData,
	}

	created, err := s.repo.CreateMember(ctx, member)
	if err != nil {
		monitoring.RecordBusinessEvent("member_created", "failure")
		return nil, err
	}

	slog.Info("Member created", "memberId", id)
	monitoring.RecordBusinessEvent("member_created", "success")
	s.logEvent(ctx, audit.ActionMemberCreated, audit.StatusSuccess, &id, nil)
	return created, nil
}

func (s *MemberService) validateCreate(req *models.CreateMemberRequest) error {
	if req == nil {
		return models.NewValidationError("request body is required")
	}
	var missing []string
	if strings.TrimSpace(req.Name) == "" {
		missing = append(missing, "name")
	}
	if req.MemberID == nil {
		missing = append(missing, "id")
	}
	if req.MaleCount == nil {
		missing = append(missing, "numberOfMaleMembers")
	}
	if req.FemaleCount == nil {
		missing = append(missing, "numberOfFemaleMembers")
	}
	if len(req.Image) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return models.NewValidationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	if err := validateCounts(*req.MaleCount, *req.FemaleCount); err != nil {
		return err
	}
	return s.validateImageSize(req.Image)
}

func validateCounts(male, female int) error {
	if male < 0 {
		return models.NewValidationError("numberOfMaleMembers must be non-negative")
	}
	if female < 0 {
		return models.NewValidationError("numberOfFemaleMembers must be non-negative")
	}
	return nil
}

func (s *MemberService) validateImageSize(image []byte) error {
	if s.cfg.MaxImageBytes > 0 && int64(len(image)) > s.cfg.MaxImageBytes {
		return models.NewValidationError("image exceeds %d bytes", s.cfg.MaxImageBytes)
	}
	return nil
}

// GetGated returns the member and records the scan when the daily window allows it.
// The window check and the write happen in one conditional store update.
func (s *MemberService) GetGated(ctx context.Context, id int64, now time.Time) (*models.Member, error) {
	now = now.UTC()

	member, err := s.repo.ClaimScan(ctx, id, now, policy.Cutoff(now))
	switch {
	case err == nil:
	case errors.Is(err, models.ErrScanNotAllowed):
		var last *time.Time
		if member != nil {
			last = member.LastScanTime
		}
		decision := policy.CanScan(last, now)
		retryAfter := decision.RetryAfter
		if decision.Allowed {
			// A concurrent claim won between the write and the re-read
			retryAfter = policy.ThrottleWindow
		}

		slog.Info("Scan throttled", "memberId", id, "retryAfter", retryAfter.String())
		monitoring.RecordScanDecision(monitoring.ScanThrottled)
		s.logEvent(ctx, audit.ActionScanDenied, audit.StatusFailure, &id,
			map[string]interface{}{"retryAfterSeconds": int64(retryAfter.Seconds())})
		return nil, &models.ScanThrottledError{MemberID: id, RetryAfter: retryAfter}
	case errors.Is(err, models.ErrMemberNotFound):
		monitoring.RecordScanDecision(monitoring.ScanNotFound)
		return nil, err
	default:
		return nil, err
	}

	// Report the scan that was just recorded; every other field is as read by the claim
	member.LastScanTime = &now
	member.Touch(now)

	slog.Info("Scan recorded", "memberId", id)
	monitoring.RecordScanDecision(monitoring.ScanAllowed)
	s.logEvent(ctx, audit.ActionMemberScanned, audit.StatusSuccess, &id, nil)
	return member, nil
}

// ScanFrame decodes a QR code from an uploaded frame and performs the gated read for it
func (s *MemberService) ScanFrame(ctx context.Context, frame io.Reader, now time.Time) (*models.Member, error) {
	text, err := qrcode.DecodeImage(frame)
	if err != nil {
		s.logEvent(ctx, audit.ActionScanFrameError, audit.StatusFailure, nil, nil)
		return nil, models.NewValidationError("no readable QR code in frame")
	}
	id, err := qrcode.ParseIdentifier(text)
	if err != nil {
		s.logEvent(ctx, audit.ActionScanFrameError, audit.StatusFailure, nil, nil)
		return nil, err
	}
	return s.GetGated(ctx, id, now)
}

// Update applies the fields present in req to the member stored under id.
// Only those fields are written; lastScanTime is never modified here.
func (s *MemberService) Update(ctx context.Context, id int64, req *models.UpdateMemberRequest) (*models.Member, error) {
	if req == nil {
		return nil, models.NewValidationError("request body is required")
	}

	current, err := s.repo.GetMemberByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := &models.MemberChanges{
		MaleCount:   req.MaleCount,
		FemaleCount: req.FemaleCount,
		SpecialCase: req.SpecialCase,
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, models.NewValidationError("name must not be empty")
		}
		changes.Name = req.Name
	}

	male, female := current.MaleCount, current.FemaleCount
	if req.MaleCount != nil {
		male = *req.MaleCount
	}
	if req.FemaleCount != nil {
		female = *req.FemaleCount
	}
	if err := validateCounts(male, female); err != nil {
		return nil, err
	}

	if req.ImageData != nil {
		image, err := DecodeImageData(*req.ImageData, s.cfg.MaxImageBytes)
		if err != nil {
			return nil, err
		}
		changes.Image = image
	}

	metadata := map[string]interface{}{}
	if req.MemberID != nil && *req.MemberID != id {
		newID := *req.MemberID
		if _, err := s.repo.GetMemberByID(ctx, newID); err == nil {
			return nil, fmt.Errorf("%w: %d", models.ErrDuplicateMember, newID)
		} else if !errors.Is(err, models.ErrMemberNotFound) {
			return nil, err
		}

		qrData, err := s.qr.Encode(newID)
		if err != nil {
			return nil, err
		}
		changes.MemberID = &newID
		changes.QRCodeData = &qrData
		metadata["previousId"] = id
	}

	updated, err := s.repo.UpdateMember(ctx, id, changes)
	if err != nil {
		monitoring.RecordBusinessEvent("member_updated", "failure")
		return nil, err
	}

	slog.Info("Member updated", "memberId", updated.MemberID, "previousId", id)
	monitoring.RecordBusinessEvent("member_updated", "success")
	s.logEvent(ctx, audit.ActionMemberUpdated, audit.StatusSuccess, &updated.MemberID, metadata)
	return updated, nil
}

// Delete removes the member. Deleting an absent member returns ErrMemberNotFound every time.
func (s *MemberService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteMember(ctx, id); err != nil {
		return err
	}

	slog.Info("Member deleted", "memberId", id)
	monitoring.RecordBusinessEvent("member_deleted", "success")
	s.logEvent(ctx, audit.ActionMemberDeleted, audit.StatusSuccess, &id, nil)
	return nil
}

func (s *MemberService) logEvent(ctx context.Context, action, status string, id *int64, metadata map[string]interface{}) {
	if s.auditor == nil || !s.auditor.IsEnabled() {
		return
	}
	var memberID *int64
	if id != nil {
		v := *id
		memberID = &v
	}
	event := audit.NewEvent(action, status, memberID)
	for k, v := range metadata {
		event.WithMetadata(k, v)
	}
	s.auditor.LogEvent(ctx, event)
}
