// Package api provides the HTTP client for the SiteSense remote API.
//
// All write operations carry an Idempotency-Key header (the record's local
// id) so a replay after a success-but-unacknowledged response can be
// deduplicated server-side. Responses are decoded at this boundary into
// typed results; non-2xx responses become *APIError so callers never see
// raw payloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// APIError is a server rejection: the request reached the server and was
// answered with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: http %d", e.StatusCode)
}

// IsRejection reports whether err is a server rejection (non-2xx response),
// as opposed to a connectivity failure where the request never completed.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Entity is a created remote entity as returned by the server.
type Entity struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"-"`
}

// Client is the remote API surface consumed by the sync flow.
//
// Implementations must be safe for concurrent use.
type Client interface {
	// CreateSurvey posts a survey payload. idemKey is the record's local id.
	CreateSurvey(ctx context.Context, idemKey string, payload json.RawMessage) (*Entity, error)

	// CreateObservation posts an observation payload.
	CreateObservation(ctx context.Context, idemKey string, payload json.RawMessage) (*Entity, error)

	// UploadPhoto uploads a photo file as multipart form data against an
	// existing observation.
	UploadPhoto(ctx context.Context, idemKey, observationID, photoPath string) (*Entity, error)

	// ListSurveys fetches current server truth for surveys.
	ListSurveys(ctx context.Context) (json.RawMessage, error)

	// ListObservations fetches current server truth for observations.
	ListObservations(ctx context.Context) (json.RawMessage, error)

	// Health probes server reachability. A nil error means online.
	Health(ctx context.Context) error
}

// HTTPClient implements Client over the REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewHTTPClient creates a client for the given base URL. token may be
// empty for unauthenticated deployments. If httpClient is nil a default
// with a 15 second timeout is used.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// CreateSurvey implements Client.CreateSurvey.
func (c *HTTPClient) CreateSurvey(ctx context.Context, idemKey string, payload json.RawMessage) (*Entity, error) {
	return c.createEntity(ctx, "/api/surveys", idemKey, payload)
}

// CreateObservation implements Client.CreateObservation.
func (c *HTTPClient) CreateObservation(ctx context.Context, idemKey string, payload json.RawMessage) (*Entity, error) {
	return c.createEntity(ctx, "/api/observations", idemKey, payload)
}

func (c *HTTPClient) createEntity(ctx context.Context, path, idemKey string, payload json.RawMessage) (*Entity, error) {
	body, err := c.do(ctx, http.MethodPost, path, idemKey, "application/json", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, err
	}
	return decodeEntity(body)
}

// UploadPhoto implements Client.UploadPhoto.
func (c *HTTPClient) UploadPhoto(ctx context.Context, idemKey, observationID, photoPath string) (*Entity, error) {
	file, err := os.Open(photoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open photo %s: %w", photoPath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read photo %s: %w", photoPath, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	path := fmt.Sprintf("/api/observations/%s/photos", url.PathEscape(observationID))
	body, err := c.do(ctx, http.MethodPost, path, idemKey, mw.FormDataContentType(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return nil, err
	}
	return decodeEntity(body)
}

// ListSurveys implements Client.ListSurveys.
func (c *HTTPClient) ListSurveys(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/surveys", "", "", nil, 0)
}

// ListObservations implements Client.ListObservations.
func (c *HTTPClient) ListObservations(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/observations", "", "", nil, 0)
}

// Health implements Client.Health.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/health", "", "", nil, 0)
	return err
}

// do performs one logical request with transport-level retries for
// connectivity errors, 429, and 5xx (honoring Retry-After). A non-2xx
// answer that survives the retry budget is returned as *APIError.
func (c *HTTPClient) do(ctx context.Context, method, path, idemKey, contentType string, body *bytes.Reader, size int64) (json.RawMessage, error) {
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			reader = body
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
			req.ContentLength = size
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errPayload.Message,
		}
	}
}

func decodeEntity(body json.RawMessage) (*Entity, error) {
	var ent Entity
	if err := json.Unmarshal(body, &ent); err != nil {
		return nil, fmt.Errorf("failed to decode created entity: %w", err)
	}
	if ent.ID == "" {
		return nil, fmt.Errorf("server response missing entity id")
	}
	ent.Body = body
	return &ent, nil
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
