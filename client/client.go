// Package client is the Go counterpart of the Parley HTTP API. It owns
// the stored token pair, attaches the access token to every request,
// and on a 401 performs exactly one silent refresh-and-retry before
// surfacing the failure. Concurrent 401s share a single refresh call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 8 * time.Second
	refreshPath    = "/auth/refresh"
)

// ErrRequestTimeout reports that a call exceeded its per-request
// timeout. It is distinct from any authorization failure.
var ErrRequestTimeout = errors.New("request timed out")

// APIError is a non-2xx response decoded from the server's
// {"error": ...} body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 APIError.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Client struct {
	baseURL string
	http    *http.Client
	store   TokenStore
	timeout time.Duration

	// Concurrent 401s are coalesced: one refresh call runs, every
	// waiter retries with its result.
	sf singleflight.Group
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, store TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		store:   store,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs one API call with the renewal protocol: attach access token,
// send; on 401 (for non-refresh endpoints) refresh once through the
// singleflight group and retry the original request exactly once.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	sess, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	status, respBody, err := c.attempt(ctx, method, path, payload, sess.AccessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && path != refreshPath {
		retryStatus, retryBody, retryErr := c.refreshAndRetry(ctx, method, path, payload, status, respBody)
		if retryErr != nil {
			return retryErr
		}
		status, respBody = retryStatus, retryBody
	}

	if status < 200 || status > 299 {
		return decodeAPIError(status, respBody)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// refreshAndRetry implements the one-shot renewal. On any refresh
// failure the original 401 outcome is returned unchanged and the
// stored tokens are left intact.
func (c *Client) refreshAndRetry(ctx context.Context, method, path string, payload []byte, origStatus int, origBody []byte) (int, []byte, error) {
	sess, err := c.store.Load()
	if err != nil || sess.RefreshToken == "" {
		return origStatus, origBody, nil
	}

	_, refreshErr, _ := c.sf.Do("refresh", func() (interface{}, error) {
		return nil, c.refreshOnce(context.WithoutCancel(ctx))
	})
	if refreshErr != nil {
		return origStatus, origBody, nil
	}

	renewed, err := c.store.Load()
	if err != nil {
		return origStatus, origBody, nil
	}

	// Exactly one retry with its own timeout; its outcome is final even
	// if it is another 401.
	return c.attempt(ctx, method, path, payload, renewed.AccessToken)
}

// refreshOnce calls the refresh endpoint with its own timeout and
// persists the rotated pair.
func (c *Client) refreshOnce(ctx context.Context) error {
	sess, err := c.store.Load()
	if err != nil {
		return err
	}
	if sess.RefreshToken == "" {
		return &APIError{Status: http.StatusUnauthorized, Message: "missing refresh token"}
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": sess.RefreshToken})
	if err != nil {
		return err
	}

	status, body, err := c.attempt(ctx, http.MethodPost, refreshPath, payload, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return decodeAPIError(status, body)
	}

	var pair struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(body, &pair); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	sess.AccessToken = pair.Token
	sess.RefreshToken = pair.RefreshToken
	return c.store.Save(sess)
}

// attempt issues a single HTTP request bounded by the client timeout.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, accessToken string) (int, []byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return 0, nil, ErrRequestTimeout
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func decodeAPIError(status int, body []byte) error {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Error == "" {
		out.Error = http.StatusText(status)
	}
	return &APIError{Status: status, Message: out.Error}
}
