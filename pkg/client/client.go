// Package client is the Go SDK of the molecule upload API.
//
//	c, err := client.NewClient("https://molingest.example.com", "acme")
//	u, err := c.Uploads().Create(ctx, "batch.csv", f, nil)
//	u, err = c.Uploads().Wait(ctx, u.ID, client.UntilReviewable)
//	u, err = c.Uploads().Confirm(ctx, u.ID)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/turtacn/molingest/pkg/errors"
	"github.com/turtacn/molingest/pkg/types/common"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

const Version = "0.1.0"

// Logger receives the SDK's diagnostic output.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// retryLogger routes retryablehttp's Printf output to Debugf.
type retryLogger struct{ l Logger }

func (r retryLogger) Printf(format string, args ...interface{}) { r.l.Debugf(format, args...) }

// Client talks to one API endpoint on behalf of one tenant.
type Client struct {
	baseURL   string
	tenantID  string
	userID    string
	userAgent string
	logger    Logger

	httpClient   *http.Client
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	rc           *retryablehttp.Client

	uploads     *UploadsClient
	uploadsOnce sync.Once
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("molingest: %s (HTTP %d): %s [request_id=%s]", e.Code, e.StatusCode, e.Message, e.RequestID)
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewClient validates baseURL and builds a client for tenantID.
func NewClient(baseURL, tenantID string, opts ...Option) (*Client, error) {
	if baseURL == "" || tenantID == "" {
		return nil, errors.ErrInvalidConfig
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.ErrInvalidConfig.WithDetail("invalid base URL: " + err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.ErrInvalidConfig.WithDetail("base URL scheme must be http or https")
	}

	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		tenantID:     tenantID,
		userAgent:    "molingest-go-sdk/" + Version,
		logger:       noopLogger{},
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		retryMax:     3,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = c.httpClient
	rc.Logger = retryLogger{c.logger}
	rc.RetryMax = c.retryMax
	rc.RetryWaitMin = c.retryWaitMin
	rc.RetryWaitMax = c.retryWaitMax
	rc.CheckRetry = checkRetry
	// hand the last response back so the API error can be decoded
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.rc = rc
	return c, nil
}

// Uploads returns the upload resource client.
func (c *Client) Uploads() *UploadsClient {
	c.uploadsOnce.Do(func() {
		c.uploads = &UploadsClient{client: c}
	})
	return c.uploads
}

// checkRetry retries reads on the default policy. Writes are retried only
// when the server refused them outright.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// do sends body (already encoded, may be nil) and decodes the data of the
// success envelope into result.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, result interface{}) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(types.HeaderRequestID, requestID)
	req.Header.Set(types.HeaderTenantID, c.tenantID)
	if c.userID != "" {
		req.Header.Set(types.HeaderUserID, c.userID)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.rc.Do(req)
	if err != nil {
		c.logger.Errorf("%s %s failed: %v", method, path, err)
		return err
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s %d (%v)", method, path, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp, respBody, requestID)
	}
	if result == nil || len(respBody) == 0 {
		return nil
	}
	envelope := common.APIResponse[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, body []byte, requestID string) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: requestID}
	if id := resp.Header.Get(types.HeaderRequestID); id != "" {
		apiErr.RequestID = id
	}
	var envelope common.APIResponse[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Detail = envelope.Error.Detail
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, result)
}

func (c *Client) post(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, "", nil, result)
}

func (c *Client) postMultipart(ctx context.Context, path string, body *bytes.Buffer, contentType string, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, contentType, body.Bytes(), result)
}
