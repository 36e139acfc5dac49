package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPClient implements Store against a remote lock actor (see Handler).
type HTTPClient struct {
	base  string
	token string
	http  *http.Client
}

// NewHTTPClient targets base, e.g. "https://bot.internal/locks". A nil hc
// gets a client with a 10s timeout.
func NewHTTPClient(base, token string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), token: token, http: hc}
}

func (c *HTTPClient) Acquire(ctx context.Context, id string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodPost, id, "/start")
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("lock acquire %s: unexpected status %d", id, status)
	}
}

func (c *HTTPClient) Release(ctx context.Context, id string) error {
	status, _, err := c.do(ctx, http.MethodPost, id, "/finish")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("lock release %s: unexpected status %d", id, status)
	}
	return nil
}

func (c *HTTPClient) Held(ctx context.Context, id string) (bool, error) {
	status, body, err := c.do(ctx, http.MethodGet, id, "")
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("lock status %s: unexpected status %d", id, status)
	}
	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return false, fmt.Errorf("lock status %s: decode: %w", id, err)
	}
	return st.Running, nil
}

func (c *HTTPClient) do(ctx context.Context, method, id, suffix string) (int, []byte, error) {
	path, err := escapeID(id)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/"+path+suffix, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build lock request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("lock request %s %s: %w", method, id, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, nil, fmt.Errorf("read lock response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// escapeID turns "owner/repo/42" into path-escaped segments.
func escapeID(id string) (string, error) {
	parts := strings.Split(id, "/")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid lock id %q", id)
	}
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid lock id %q", id)
		}
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/"), nil
}
