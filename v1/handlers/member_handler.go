package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/num-err/smartscan/utils"
	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/services"
)

const (
	membersPath = "/api/v1/members"

	// multipartMemory is held in memory before form files spill to disk
	multipartMemory = 8 << 20
	// formOverhead allows for the text fields around an uploaded photo
	formOverhead = 1 << 20
)

// BodyLimits bounds request bodies. A zero field leaves the matching routes unbounded.
type BodyLimits struct {
	// MaxImageBytes is the largest decoded photo or frame
	MaxImageBytes int64
	// MaxBulkBytes caps the whole bulk import body
	MaxBulkBytes int64
}

// MemberHandler serves the /api/v1/members routes
type MemberHandler struct {
	service *services.MemberService
	// formBody caps multipart uploads, jsonBody caps updates carrying base64 photos
	formBody int64
	jsonBody int64
	bulkBody int64
	now      func() time.Time
}

// NewMemberHandler creates a handler with request bodies sized from limits
func NewMemberHandler(service *services.MemberService, limits BodyLimits) *MemberHandler {
	h := &MemberHandler{service: service, bulkBody: limits.MaxBulkBytes, now: time.Now}
	if limits.MaxImageBytes > 0 {
		h.formBody = limits.MaxImageBytes + formOverhead
		h.jsonBody = int64(base64.StdEncoding.EncodedLen(int(limits.MaxImageBytes))) + formOverhead
	}
	return h
}

// Routes lists the route templates served, for metrics label normalization
func (h *MemberHandler) Routes() []string {
	return []string{
		membersPath,
		membersPath + "/bulk",
		membersPath + "/scan",
		membersPath + "/{id}",
	}
}

// SetupMemberRoutes registers the member routes on mux
func (h *MemberHandler) SetupMemberRoutes(mux *http.ServeMux) {
	handler := utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleMembers))
	mux.Handle(membersPath, handler)
	mux.Handle(membersPath+"/", handler)
}

// handleMembers dispatches on the path below /api/v1/members
func (h *MemberHandler) handleMembers(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, membersPath), "/")
	parts := strings.Split(path, "/")
	if len(parts) > 1 {
		utils.RespondWithError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	switch parts[0] {
	case "":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.createMember(w, r)
	case "bulk":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.bulkCreateMembers(w, r)
	case "scan":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.scanFrame(w, r)
	default:
		id, err := parseMemberID(parts[0])
		if err != nil {
			writeServiceError(w, err, h.now())
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.getMember(w, r, id)
		case http.MethodPut:
			h.updateMember(w, r, id)
		case http.MethodDelete:
			h.deleteMember(w, r, id)
		default:
			methodNotAllowed(w)
		}
	}
}

func limitBody(w http.ResponseWriter, r *http.Request, limit int64) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
}

// bodyTooLarge reports a body cut off by limitBody as a validation error
func (h *MemberHandler) bodyTooLarge(w http.ResponseWriter, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeServiceError(w, models.NewValidationError("request exceeds %d bytes", tooLarge.Limit), h.now())
	return true
}

// createMember handles POST /api/v1/members (multipart form)
func (h *MemberHandler) createMember(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.formBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if h.bodyTooLarge(w, err) {
			return
		}
		badRequest(w, "Request must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := parseCreateForm(r)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}

	member, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, member)
}

// parseCreateForm converts the untyped form fields into a typed request.
// Absent fields stay nil so the service can report them as missing.
func parseCreateForm(r *http.Request) (*models.CreateMemberRequest, error) {
	req := &models.CreateMemberRequest{
		Name:        r.FormValue("name"),
		SpecialCase: r.FormValue("specialCase"),
	}

	if raw := strings.TrimSpace(r.FormValue("id")); raw != "" {
		id, err := parseMemberID(raw)
		if err != nil {
			return nil, err
		}
		req.MemberID = &id
	}

	var err error
	if req.MaleCount, err = formInt(r, "numberOfMaleMembers"); err != nil {
		return nil, err
	}
	if req.FemaleCount, err = formInt(r, "numberOfFemaleMembers"); err != nil {
		return nil, err
	}

	image, err := formFile(r, "image")
	if err != nil {
		return nil, err
	}
	req.Image = image
	return req, nil
}

func formInt(r *http.Request, field string) (*int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, models.NewValidationError("%s must be an integer", field)
	}
	return &v, nil
}

// formFile reads an uploaded file; a missing file yields nil bytes
func formFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, models.NewValidationError("invalid %s upload", field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// getMember handles the gated read GET /api/v1/members/{id}
func (h *MemberHandler) getMember(w http.ResponseWriter, r *http.Request, id int64) {
	now := h.now()
	member, err := h.service.GetGated(r.Context(), id, now)
	if err != nil {
		writeServiceError(w, err, now)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, member)
}

// updateMember handles PUT /api/v1/members/{id}
func (h *MemberHandler) updateMember(w http.ResponseWriter, r *http.Request, id int64) {
	limitBody(w, r, h.jsonBody)
	var req models.UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if h.bodyTooLarge(w, err) {
			return
		}
		badRequest(w, "Invalid request body")
		return
	}

	member, err := h.service.Update(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, member)
}

// deleteMember handles DELETE /api/v1/members/{id}
func (h *MemberHandler) deleteMember(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, models.MessageResponse{Message: "Deleted Member"})
}

// bulkCreateMembers handles POST /api/v1/members/bulk with a JSON array body
func (h *MemberHandler) bulkCreateMembers(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.bulkBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if h.bodyTooLarge(w, err) {
			return
		}
		badRequest(w, "Invalid request body")
		return
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		badRequest(w, "Request body must be an array of members")
		return
	}

	var entries []models.BulkMemberEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	resp, err := h.service.BulkCreate(r.Context(), entries)
	if err != nil {
		writeServiceError(w, err, h.now())
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, resp)
}

// scanFrame handles POST /api/v1/members/scan with a camera frame in the "frame" field
func (h *MemberHandler) scanFrame(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.formBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if h.bodyTooLarge(w, err) {
			return
		}
		badRequest(w, "Request must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("frame")
	if err != nil {
		writeServiceError(w, models.NewValidationError("missing required fields: frame"), h.now())
		return
	}
	defer file.Close()

	now := h.now()
	member, err := h.service.ScanFrame(r.Context(), file, now)
	if err != nil {
		writeServiceError(w, err, now)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, member)
}
