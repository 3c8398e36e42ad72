// Package api is the HTTP gateway to the item-management backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// InternalKeyHeader carries the shared secret for internal cleanup endpoints.
const InternalKeyHeader = "x-internal-key"

// Config holds configuration for a Client.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	RateLimit   float64 // requests per second; 0 disables pacing
	InternalKey string
	Logger      *zap.Logger
}

// DefaultConfig returns sensible defaults for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	token       string
	internalKey string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a client. The cookie jar is shared by clients derived
// with WithToken.
func NewClient(cfg Config) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", cfg.BaseURL, err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		internalKey: cfg.InternalKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout, Jar: jar},
		logger:      cfg.Logger,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// WithToken returns a client sending token as its bearer credential.
// Transport, limiter and logger are shared with c.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bearer token, if any.
func (c *Client) Token() string { return c.token }

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for a token and profile.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var res LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, nil, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token == "" {
		return LoginResult{}, fmt.Errorf("login for %s: response carried no token", email)
	}
	return res, nil
}

// Me returns the profile of the bearer token's owner. Any non-2xx response
// means the token is not usable.
func (c *Client) Me(ctx context.Context) (User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, nil, &raw); err != nil {
		return User{}, err
	}
	var wrapped struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return *wrapped.User, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("decode /auth/me: %w", err)
	}
	return u, nil
}

// ListItems returns one page of the caller's items.
func (c *Client) ListItems(ctx context.Context, opts ListOptions) (ItemList, error) {
	q := url.Values{}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	var list ItemList
	if err := c.do(ctx, http.MethodGet, "/items", q, nil, nil, &list); err != nil {
		return ItemList{}, err
	}
	return list, nil
}

// ListAllItems pages through a listing until the reported total is reached.
func (c *Client) ListAllItems(ctx context.Context, opts ListOptions) ([]Item, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	var all []Item
	for page := 1; ; page++ {
		opts.Page = page
		list, err := c.ListItems(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, list.Items...)
		if len(list.Items) == 0 || len(all) >= list.Pagination.Total {
			return all, nil
		}
	}
}

// GetItem fetches one item.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var it Item
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, nil, nil, &it)
	return it, err
}

// CreateItem posts a new item. A 409 means the name is already taken,
// possibly by a soft-deleted item.
func (c *Client) CreateItem(ctx context.Context, payload any) (Item, error) {
	var it Item
	err := c.do(ctx, http.MethodPost, "/items", nil, payload, nil, &it)
	return it, err
}

// UpdateItem replaces fields of an item. version is the optimistic-lock
// version the caller last saw; a stale version yields a 409.
func (c *Client) UpdateItem(ctx context.Context, id string, fields map[string]any, version int) (Item, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["version"] = version
	var it Item
	err := c.do(ctx, http.MethodPut, "/items/"+url.PathEscape(id), nil, body, nil, &it)
	return it, err
}

// ActivateItem flips a soft-deleted item back to active.
func (c *Client) ActivateItem(ctx context.Context, id string) (Item, error) {
	var it Item
	err := c.do(ctx, http.MethodPatch, "/items/"+url.PathEscape(id)+"/activate", nil, nil, nil, &it)
	return it, err
}

// DeleteItem soft-deletes an item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil, nil, nil)
}

// PermanentDeleteItem removes an item irreversibly. Requires the internal key.
func (c *Client) PermanentDeleteItem(ctx context.Context, id string) error {
	return c.internal(ctx, "/internal/items/"+url.PathEscape(id)+"/permanent")
}

// DeleteUserItems removes every item owned by userID. Requires the internal key.
func (c *Client) DeleteUserItems(ctx context.Context, userID string) error {
	return c.internal(ctx, "/internal/users/"+url.PathEscape(userID)+"/items")
}

// DeleteUserData removes all data owned by userID. Requires the internal key.
func (c *Client) DeleteUserData(ctx context.Context, userID string) error {
	return c.internal(ctx, "/internal/users/"+url.PathEscape(userID)+"/data")
}

func (c *Client) internal(ctx context.Context, path string) error {
	if c.internalKey == "" {
		return fmt.Errorf("DELETE %s: internal automation key not configured", path)
	}
	h := http.Header{}
	h.Set(InternalKeyHeader, c.internalKey)
	return c.do(ctx, http.MethodDelete, path, nil, nil, h, nil)
}

// do sends one request. out, when non-nil, receives the decoded payload
// with any {"data": ...} envelope removed.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, header http.Header, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: marshal request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(respBody), out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
