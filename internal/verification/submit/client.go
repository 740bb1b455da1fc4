// Package submit posts completed verification codes to the dashboard backend.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"salesops-relay/internal/verification/domain"
)

const defaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response body ends up in an error.
const maxErrorBody = 512

var (
	// ErrSkipped is returned without any request when the task id is empty or the code is not
	// exactly six characters.
	ErrSkipped = errors.New("submit: skipped")
	// ErrRejected is returned when the backend answers success=false.
	ErrRejected = errors.New("submit: rejected by backend")
	// ErrClaimed is reported when another submission of the same code for the same task holds
	// the claim.
	ErrClaimed = errors.New("submit: code already submitted for this task")
)

// API submits a code for a task.
type API interface {
	Submit(ctx context.Context, taskID, code string) (domain.SubmitResponse, error)
}

// Client calls POST /api/auth/verification/{taskId}/submit.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a client for the backend at baseURL. A non-positive timeout uses 15s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the submission URL for taskID.
func (c *Client) Endpoint(taskID string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/api/auth/verification/" + url.PathEscape(taskID) + "/submit"
}

// Submit posts code for taskID. A non-2xx status or success=false is an error; the backend's
// response is returned whenever it could be decoded.
func (c *Client) Submit(ctx context.Context, taskID, code string) (domain.SubmitResponse, error) {
	if taskID == "" || utf8.RuneCountInString(code) != domain.CodeLength {
		return domain.SubmitResponse{}, ErrSkipped
	}
	raw, err := json.Marshal(domain.SubmitRequest{Code: code})
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(taskID), bytes.NewReader(raw))
	if err != nil {
		return domain.SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return domain.SubmitResponse{}, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return domain.SubmitResponse{}, fmt.Errorf("submit: read response: %w", err)
	}
	var out domain.SubmitResponse
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("submit: request failed status=%d body=%s", resp.StatusCode, truncate(body))
	}
	if decodeErr != nil {
		return domain.SubmitResponse{}, fmt.Errorf("submit: decode response: %w", decodeErr)
	}
	if !out.Success {
		return out, fmt.Errorf("%w: %s", ErrRejected, out.Message)
	}
	return out, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
