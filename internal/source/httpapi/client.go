// Package httpapi implements harvest.Source against a JSON catalog API:
// token handshake, category listing, and offset-paged product search.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/harvest"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultIDField        = "id"
	maxErrorBodyBytes     = 512
)

// Config captures the endpoints and identity of one catalog API.
type Config struct {
	BaseURL        string
	AuthPath       string
	CategoriesPath string
	SearchPath     string
	ClientID       string
	UserAgent      string
	// IDField names the JSON property inside each product object that
	// carries the external id.
	IDField        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// Client talks to a JSON catalog API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. BaseURL is required; the rest falls back to defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("source base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse source base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.IDField == "" {
		cfg.IDField = defaultIDField
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger: logger,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate requests an anonymous access token.
func (c *Client) Authenticate(ctx context.Context) (harvest.Credential, error) {
	body := strings.NewReader(fmt.Sprintf(`{"clientId":%q}`, c.cfg.ClientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.AuthPath, body)
	if err != nil {
		return harvest.Credential{}, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	var token tokenResponse
	if err := c.doJSON(req, &token); err != nil {
		return harvest.Credential{}, fmt.Errorf("authenticate: %w", err)
	}
	if token.AccessToken == "" {
		return harvest.Credential{}, fmt.Errorf("authenticate: empty access token")
	}
	c.logger.Debug("authenticated with catalog api")
	return harvest.Credential{Token: token.AccessToken, IssuedAt: time.Now()}, nil
}

type categoryResponse struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// Categories lists the top-level catalog taxonomy.
func (c *Client) Categories(ctx context.Context, cred harvest.Credential) ([]harvest.Category, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.CategoriesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build categories request: %w", err)
	}
	c.setCommonHeaders(req)
	c.setAuth(req, cred)

	var cats []categoryResponse
	if err := c.doJSON(req, &cats); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]harvest.Category, 0, len(cats))
	for _, cat := range cats {
		if cat.ID.String() == "" {
			continue
		}
		out = append(out, harvest.Category{ID: cat.ID.String(), Name: cat.Name})
	}
	return out, nil
}

type searchResponse struct {
	Products []json.RawMessage `json:"products"`
	Total    int               `json:"total"`
}

// FetchPage requests one slice of a category listing.
func (c *Client) FetchPage(ctx context.Context, cred harvest.Credential, categoryID string, offset, size int) (harvest.Page, error) {
	u, err := url.Parse(c.cfg.BaseURL + c.cfg.SearchPath)
	if err != nil {
		return harvest.Page{}, fmt.Errorf("build search url: %w", err)
	}
	q := u.Query()
	q.Set("taxonomyId", categoryID)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("size", strconv.Itoa(size))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return harvest.Page{}, fmt.Errorf("build search request: %w", err)
	}
	c.setCommonHeaders(req)
	c.setAuth(req, cred)

	var res searchResponse
	if err := c.doJSON(req, &res); err != nil {
		return harvest.Page{}, fmt.Errorf("fetch page: %w", err)
	}
	items := make([]harvest.Item, 0, len(res.Products))
	for _, raw := range res.Products {
		id, ok := extractID(raw, c.cfg.IDField)
		if !ok {
			c.logger.Debug("product without id field, skipping",
				zap.String("id_field", c.cfg.IDField))
			continue
		}
		items = append(items, harvest.Item{ID: id, Payload: raw})
	}
	return harvest.Page{Items: items, Total: res.Total}, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) setAuth(req *http.Request, cred harvest.Credential) {
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
}

// doJSON executes the request and decodes a 2xx body into out, mapping
// status classes onto the engine's error taxonomy.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &harvest.RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &harvest.AuthError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &harvest.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// extractID pulls the named string-or-number field out of a raw product
// object without decoding the full payload shape.
func extractID(raw json.RawMessage, field string) (string, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	val, ok := probe[field]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(val, &s); err == nil && s != "" {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(val, &n); err == nil && n.String() != "" {
		return n.String(), true
	}
	return "", false
}
