package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	// maxRetryAfter caps how long a rate limited request waits before its
	// single retry.
	maxRetryAfter = 5 * time.Second

	maxErrorBody = 512
)

// errNotFound is mapped by callers to ErrAddressNotFound or ErrTxNotFound.
var errNotFound = errors.New("not found")

// restClient speaks the REST dialect shared by mempool.space and Esplora.
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRESTClient(baseURL string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &restClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// getJSON fetches path and decodes the body into out.
func (c *restClient) getJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// getText fetches path and returns the trimmed body.
func (c *restClient) getText(ctx context.Context, path string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, path, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// postText posts a text/plain body and returns the trimmed response.
func (c *restClient) postText(ctx context.Context, path, payload string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *restClient) do(ctx context.Context, method, path, payload string) ([]byte, error) {
	body, retryAfter, err := c.once(ctx, method, path, payload)
	if !errors.Is(err, ErrRateLimited) || retryAfter <= 0 {
		return body, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryAfter):
	}
	body, _, err = c.once(ctx, method, path, payload)
	return body, err
}

func (c *restClient) once(ctx context.Context, method, path, payload string) ([]byte, time.Duration, error) {
	var reader io.Reader
	if payload != "" {
		reader = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != "" {
		req.Header.Set("Content-Type", "text/plain")
	}
	// Public instances sit behind CDNs that serve stale UTXO sets.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, 0, nil
	case http.StatusNotFound:
		return nil, 0, fmt.Errorf("%w: %s", errNotFound, path)
	case http.StatusTooManyRequests:
		return nil, retryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	default:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, 0, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
}

// StatusError is an unexpected HTTP status from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
