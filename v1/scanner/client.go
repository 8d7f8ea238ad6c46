// Package scanner is the capture side of the registry: it reads member IDs from
// camera frames and asks the server for the gated record.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/num-err/smartscan/v1/models"
	"github.com/num-err/smartscan/v1/qrcode"
)

// DefaultTimeout bounds a single lookup
const DefaultTimeout = 10 * time.Second

// DecodeFrame reads the member ID from the QR code in a PNG or JPEG frame
func DecodeFrame(r io.Reader) (int64, error) {
	text, err := qrcode.DecodeImage(r)
	if err != nil {
		return 0, models.NewValidationError("no readable QR code in frame")
	}
	return qrcode.ParseIdentifier(text)
}

// Client performs gated lookups against a registry server.
// The server decides whether a scan is allowed; the client only remembers the last answer for display.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu   sync.Mutex
	last *models.Member
}

// NewClient creates a client for the registry at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError is the error body returned by the server, including the throttle fields
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RetryAfterSeconds int64 `json:"retryAfterSeconds"`
}

// Lookup performs GET /api/v1/members/{id}
func (c *Client) Lookup(ctx context.Context, id int64) (*models.Member, error) {
	url := fmt.Sprintf("%s/api/v1/members/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup of member %d failed: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var member models.Member
		if err := json.Unmarshal(body, &member); err != nil {
			return nil, fmt.Errorf("failed to decode member: %w", err)
		}
		c.mu.Lock()
		c.last = member.Clone()
		c.mu.Unlock()
		return &member, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %d", models.ErrMemberNotFound, id)
	case http.StatusBadRequest:
		return nil, decodeBadRequest(id, body, resp.Header)
	default:
		slog.Warn("Unexpected lookup response", "status", resp.StatusCode, "memberId", id)
		return nil, fmt.Errorf("lookup of member %d: unexpected status %d", id, resp.StatusCode)
	}
}

func decodeBadRequest(id int64, body []byte, header http.Header) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return models.NewValidationError("server rejected the request")
	}

	switch models.MemberErrorCode(apiErr.Error.Code) {
	case models.ErrorCodeScanThrottled:
		seconds := apiErr.RetryAfterSeconds
		if seconds <= 0 {
			seconds, _ = strconv.ParseInt(header.Get("Retry-After"), 10, 64)
		}
		return &models.ScanThrottledError{MemberID: id, RetryAfter: time.Duration(seconds) * time.Second}
	case models.ErrorCodeDuplicateIdentifier:
		return fmt.Errorf("%w: %d", models.ErrDuplicateMember, id)
	default:
		return models.NewValidationError("%s", apiErr.Error.Message)
	}
}

// LookupFrame decodes the frame and looks up the member it names
func (c *Client) LookupFrame(ctx context.Context, frame io.Reader) (*models.Member, error) {
	id, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	return c.Lookup(ctx, id)
}

// LastResult returns a copy of the last successful lookup, or nil
func (c *Client) LastResult() *models.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Clone()
}
