package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/num-err/smartscan/utils"
	"github.com/num-err/smartscan/v1/database"
	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/qrcode"
	"github.com/num-err/smartscan/v1/services"
	"github.com/num-err/smartscan/v1/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testServer struct {
	mux     *http.ServeMux
	handler *MemberHandler
	clock   time.Time
}

var testLimits = BodyLimits{MaxImageBytes: 1 << 20, MaxBulkBytes: 4 << 20}

func newTestServer(t *testing.T, repo database.MemberRepository, opts ...services.Option) *testServer {
	return newLimitedServer(t, repo, testLimits, opts...)
}

func newLimitedServer(t *testing.T, repo database.MemberRepository, limits BodyLimits, opts ...services.Option) *testServer {
	t.Helper()
	ts := &testServer{mux: http.NewServeMux(), clock: fixedNow}
	ts.handler = NewMemberHandler(services.NewMemberService(repo, opts...), limits)
	ts.handler.now = func() time.Time { return ts.clock }
	ts.handler.SetupMemberRoutes(ts.mux)
	return ts
}

func newSQLiteServer(t *testing.T) *testServer {
	db := testutil.SetupSQLiteTestDB(t)
	return newTestServer(t, database.NewGormRepository(db, 5*time.Second))
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField string, file []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "upload.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func aliceFields() map[string]string {
	return map[string]string{
		"name":                  "Alice",
		"id":                    "1001",
		"numberOfMaleMembers":   "2",
		"numberOfFemaleMembers": "1",
		"specialCase":           "None",
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestMemberHandler_AliceScenario(t *testing.T) {
	ts := newSQLiteServer(t)

	rec := ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, float64(1001), created["id"])
	assert.Equal(t, "Alice", created["name"])
	assert.Equal(t, float64(2), created["numberOfMaleMembers"])
	assert.NotEmpty(t, created["qrcodeData"])
	assert.Nil(t, created["lastScanTime"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(testutil.SamplePhoto), created["imageUrl"])

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	scanned := decodeBody(t, rec)
	require.NotNil(t, scanned["lastScanTime"])
	lastScan, err := time.Parse(time.RFC3339Nano, scanned["lastScanTime"].(string))
	require.NoError(t, err)
	assert.True(t, lastScan.Equal(fixedNow))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "86400", rec.Header().Get("Retry-After"))

	var throttled models.ThrottledResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &throttled))
	assert.Equal(t, string(models.ErrorCodeScanThrottled), throttled.Error.Code)
	assert.Equal(t, ThrottledMessage, throttled.Error.Message)
	assert.Equal(t, int64(86400), throttled.RetryAfterSeconds)
	assert.True(t, throttled.NextScanAt.Equal(fixedNow.Add(24*time.Hour)))

	// Exactly one window later the member may be scanned again
	ts.clock = fixedNow.Add(24 * time.Hour)
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMemberHandler_Create(t *testing.T) {
	ts := newTestServer(t, testutil.NewMockRepository())

	rec := ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto))
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name     string
		mutate   func(map[string]string)
		withFile bool
		wantCode string
		wantMsg  string
	}{
		{"Duplicate identifier", func(map[string]string) {}, true, string(models.ErrorCodeDuplicateIdentifier), "already exists"},
		{"Missing name", func(f map[string]string) { f["id"] = "2"; delete(f, "name") }, true, string(models.ErrorCodeValidation), "name"},
		{"Missing image", func(f map[string]string) { f["id"] = "3" }, false, string(models.ErrorCodeValidation), "image"},
		{"Non-numeric id", func(f map[string]string) { f["id"] = "abc" }, true, string(models.ErrorCodeValidation), "invalid member ID"},
		{"Non-numeric count", func(f map[string]string) { f["id"] = "4"; f["numberOfMaleMembers"] = "two" }, true, string(models.ErrorCodeValidation), "numberOfMaleMembers"},
		{"Negative count", func(f map[string]string) { f["id"] = "5"; f["numberOfFemaleMembers"] = "-1" }, true, string(models.ErrorCodeValidation), "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := aliceFields()
			tt.mutate(fields)
			fileField := ""
			if tt.withFile {
				fileField = "image"
			}

			rec := ts.do(multipartRequest(t, "/api/v1/members", fields, fileField, testutil.SamplePhoto))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body utils.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Contains(t, body.Error.Message, tt.wantMsg)
		})
	}

	t.Run("Not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members", strings.NewReader(`{"name":"Alice"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(models.ErrorCodeBadRequest), errorCode(t, rec))
	})

	t.Run("Photo too large", func(t *testing.T) {
		fields := aliceFields()
		fields["id"] = "6"
		rec := ts.do(multipartRequest(t, "/api/v1/members", fields, "image", bytes.Repeat([]byte{1}, 3<<20)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMemberHandler_GetMember(t *testing.T) {
	repo := testutil.NewMockRepository()
	ts := newTestServer(t, repo)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeValidation), errorCode(t, rec))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(models.ErrorCodeMemberNotFound), errorCode(t, rec))

	t.Run("Partial window reports remaining wait", func(t *testing.T) {
		rec := ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto))
		require.Equal(t, http.StatusCreated, rec.Code)
		last := fixedNow.Add(-90 * time.Minute)
		repo.SetLastScanTime(1001, &last)

		rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "81000", rec.Header().Get("Retry-After"))
	})

	t.Run("Store failure is opaque", func(t *testing.T) {
		repo.ClaimErr = errors.New("disk on fire")
		defer func() { repo.ClaimErr = nil }()

		rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, string(models.ErrorCodeInternalError), errorCode(t, rec))
		assert.NotContains(t, rec.Body.String(), "disk on fire")
	})
}

func TestMemberHandler_UpdateMember(t *testing.T) {
	ts := newTestServer(t, testutil.NewMockRepository())
	require.Equal(t, http.StatusCreated, ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto)).Code)

	fields := aliceFields()
	fields["id"] = "1002"
	fields["name"] = "Bob"
	require.Equal(t, http.StatusCreated, ts.do(multipartRequest(t, "/api/v1/members", fields, "image", testutil.SamplePhoto)).Code)

	put := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(req)
	}

	rec := put("/api/v1/members/1001", `{"name":"Alice Smith","imageData":"`+base64.StdEncoding.EncodeToString([]byte("new"))+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Alice Smith", body["name"])
	assert.Equal(t, float64(1001), body["id"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("new")), body["imageUrl"])

	rec = put("/api/v1/members/1001", `{"id":1002}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeDuplicateIdentifier), errorCode(t, rec))

	rec = put("/api/v1/members/1001", `{"id":2001}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2001), body["id"])
	id, err := qrcode.DecodePayload(body["qrcodeData"].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(2001), id)

	rec = put("/api/v1/members/1001", `{"name":"Ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = put("/api/v1/members/2001", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeBadRequest), errorCode(t, rec))

	rec = put("/api/v1/members/2001", `{"name":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeValidation), errorCode(t, rec))
}

func TestMemberHandler_DeleteMember(t *testing.T) {
	ts := newTestServer(t, testutil.NewMockRepository())
	require.Equal(t, http.StatusCreated, ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto)).Code)

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/members/1001", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Deleted Member"}`, rec.Body.String())

	for i := 0; i < 2; i++ {
		rec = ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/members/1001", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/members/1001", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemberHandler_BulkCreate(t *testing.T) {
	repo := testutil.NewMockRepository()
	loader := services.StaticLoader{"photos/a.png": []byte("a"), "photos/b.png": []byte("b")}
	ts := newTestServer(t, repo, services.WithImageLoader(loader))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members/bulk", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(req)
	}

	rec := post(`{"name":"Alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be an array")

	rec = post(`[{"name":"Alice","id":1,"numberOfMaleMembers":1,"numberOfFemaleMembers":0,"imagePath":"photos/a.png"},
		{"name":"Bob","id":2,"numberOfMaleMembers":0,"numberOfFemaleMembers":1,"imagePath":"photos/b.png"},
		{"name":"Alice twin","id":1,"numberOfMaleMembers":1,"numberOfFemaleMembers":0,"imagePath":"photos/a.png"}]`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.BulkCreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Results.InsertedCount)
	assert.Equal(t, []int64{1, 2}, resp.Results.InsertedIDs)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 2, resp.Errors[0].Index)
	assert.Equal(t, 2, repo.Len())

	rec = post(`[]`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"results":{"insertedCount":0,"insertedIds":[]},"errors":[]}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/members/bulk", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(req).Code)
}

func TestMemberHandler_BodyLimits(t *testing.T) {
	limits := BodyLimits{MaxImageBytes: 4 << 20, MaxBulkBytes: 1 << 20}
	ts := newLimitedServer(t, testutil.NewMockRepository(), limits)

	put := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return ts.do(req)
	}

	t.Run("Near-limit photo is accepted by create and update", func(t *testing.T) {
		photo := bytes.Repeat([]byte{7}, 4<<20-100<<10)
		rec := ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", photo))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = put("/api/v1/members/1001", `{"imageData":"`+base64.StdEncoding.EncodeToString(photo)+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, base64.StdEncoding.EncodeToString(photo), body["imageUrl"])
	})

	t.Run("Oversized update body", func(t *testing.T) {
		photo := bytes.Repeat([]byte{7}, 6<<20)
		rec := put("/api/v1/members/1001", `{"imageData":"`+base64.StdEncoding.EncodeToString(photo)+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(models.ErrorCodeValidation), errorCode(t, rec))
	})

	t.Run("Oversized bulk body", func(t *testing.T) {
		body := `[{"name":"` + strings.Repeat("a", 2<<20) + `","id":5}]`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members/bulk", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(models.ErrorCodeValidation), errorCode(t, rec))
		assert.Contains(t, rec.Body.String(), "request exceeds 1048576 bytes")
	})

	t.Run("Bulk body within the cap", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/members/bulk", strings.NewReader(`[]`))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusCreated, ts.do(req).Code)
	})
}

func TestMemberHandler_ScanFrame(t *testing.T) {
	ts := newTestServer(t, testutil.NewMockRepository())
	require.Equal(t, http.StatusCreated, ts.do(multipartRequest(t, "/api/v1/members", aliceFields(), "image", testutil.SamplePhoto)).Code)

	dataURL, err := qrcode.Encode(1001)
	require.NoError(t, err)
	frame, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, qrcode.DataURLPrefix))
	require.NoError(t, err)

	rec := ts.do(multipartRequest(t, "/api/v1/members/scan", nil, "frame", frame))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1001), decodeBody(t, rec)["id"])

	rec = ts.do(multipartRequest(t, "/api/v1/members/scan", nil, "frame", frame))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeScanThrottled), errorCode(t, rec))

	rec = ts.do(multipartRequest(t, "/api/v1/members/scan", nil, "frame", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(models.ErrorCodeValidation), errorCode(t, rec))

	rec = ts.do(multipartRequest(t, "/api/v1/members/scan", map[string]string{"note": "no frame"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	unknown, err := qrcode.Encode(77)
	require.NoError(t, err)
	frame, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(unknown, qrcode.DataURLPrefix))
	require.NoError(t, err)
	rec = ts.do(multipartRequest(t, "/api/v1/members/scan", nil, "frame", frame))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemberHandler_Routing(t *testing.T) {
	ts := newTestServer(t, testutil.NewMockRepository())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/members", http.StatusMethodNotAllowed},
		{http.MethodPatch, "/api/v1/members/1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/members/scan", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/members/1/extra", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   models.MemberErrorCode
	}{
		{"Validation", models.NewValidationError("bad"), http.StatusBadRequest, models.ErrorCodeValidation},
		{"Duplicate", models.ErrDuplicateMember, http.StatusBadRequest, models.ErrorCodeDuplicateIdentifier},
		{"Not found", models.ErrMemberNotFound, http.StatusNotFound, models.ErrorCodeMemberNotFound},
		{"Throttled", &models.ScanThrottledError{MemberID: 1, RetryAfter: 1500 * time.Millisecond}, http.StatusBadRequest, models.ErrorCodeScanThrottled},
		{"Other", errors.New("boom"), http.StatusInternalServerError, models.ErrorCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err, fixedNow)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, rec))
		})
	}

	rec := httptest.NewRecorder()
	writeServiceError(rec, &models.ScanThrottledError{RetryAfter: 1500 * time.Millisecond}, fixedNow)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"), "rounded up to whole seconds")
}
