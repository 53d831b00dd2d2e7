// Package yclients implements the client for the upstream scheduling
// platform. Every call retries on server errors and timeouts with capped
// exponential backoff and fails terminally once the retry budget is spent.
// A payload carrying success=false is treated as an error regardless of the
// HTTP status.
package yclients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dp-cuteam/yclients-heatmap/internal/logging"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.yclients.com"

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 10 * time.Second
)

// Config holds client construction options.
type Config struct {
	BaseURL      string
	PartnerToken string
	UserToken    string
	Timeout      time.Duration
	Retries      int

	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

// Client calls the scheduling platform API.
type Client struct {
	baseURL      string
	partnerToken string
	userToken    string
	retries      int
	httpClient   *http.Client
}

// New builds a Client, applying defaults for unset options.
func New(cfg Config) (*Client, error) {
	if cfg.PartnerToken == "" {
		return nil, fmt.Errorf("yclients: partner token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.Retries
	if retries < 1 {
		retries = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		partnerToken: cfg.PartnerToken,
		userToken:    cfg.UserToken,
		retries:      retries,
		httpClient:   httpClient,
	}, nil
}

func (c *Client) authorization() string {
	auth := "Bearer " + c.partnerToken
	if c.userToken != "" {
		auth += ", User " + c.userToken
	}
	return auth
}

// request performs one API call with retries and returns the decoded
// envelope.
func (c *Client) request(ctx context.Context, path string, query url.Values) (envelope, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		env, err := c.do(ctx, reqURL)
		if err == nil {
			return env, nil
		}
		lastErr = err
		logging.Warn().
			Str("url", reqURL).
			Int("attempt", attempt).
			Err(err).
			Msg("API request failed")
		if attempt == c.retries {
			break
		}
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return envelope{}, err
		}
	}
	return envelope{}, fmt.Errorf("yclients: request %s failed after %d attempts: %w", path, c.retries, lastErr)
}

func (c *Client) do(ctx context.Context, reqURL string) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Accept", "application/vnd.yclients.v2+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authorization())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return envelope{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 500 {
		return envelope{}, fmt.Errorf("server error %d", resp.StatusCode)
	}
	if env.Success != nil && !*env.Success {
		return envelope{}, fmt.Errorf("success=false: %s", strings.TrimSpace(string(env.Meta)))
	}
	if resp.StatusCode >= 400 {
		return envelope{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(env.Meta)))
	}
	return env, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetRecords fetches one page of bookings for a company and date range.
func (c *Client) GetRecords(ctx context.Context, companyID int64, startDate, endDate string, page, count int) (RecordsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("count", strconv.Itoa(count))
	query.Set("start_date", startDate)
	query.Set("end_date", endDate)

	env, err := c.request(ctx, fmt.Sprintf("/api/v1/records/%d", companyID), query)
	if err != nil {
		return RecordsPage{}, err
	}
	var out RecordsPage
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &out.Records); err != nil {
			return RecordsPage{}, fmt.Errorf("decode records: %w", err)
		}
	}
	if len(env.Meta) > 0 {
		var meta recordsMeta
		if err := json.Unmarshal(env.Meta, &meta); err == nil {
			out.TotalCount = meta.TotalCount
		}
	}
	return out, nil
}

// GetStaff fetches the staff list for a company. The primary endpoint takes
// staff_id=0 meaning "all staff"; some installations reject that form, so a
// rejection falls back to the deprecated list endpoint.
func (c *Client) GetStaff(ctx context.Context, companyID int64) ([]Staff, error) {
	env, err := c.request(ctx, fmt.Sprintf("/api/v1/company/%d/staff/0", companyID), nil)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "masterId") || strings.Contains(msg, "staff_id") ||
			strings.Contains(msg, "400") || strings.Contains(msg, "422") {
			env, err = c.request(ctx, fmt.Sprintf("/api/v1/staff/%d", companyID), nil)
		}
		if err != nil {
			return nil, err
		}
	}
	var out []Staff
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode staff: %w", err)
		}
	}
	return out, nil
}

// GetCompanies fetches the companies visible to the token.
func (c *Client) GetCompanies(ctx context.Context) ([]Company, error) {
	query := url.Values{}
	query.Set("my", "1")
	env, err := c.request(ctx, "/api/v1/companies", query)
	if err != nil {
		return nil, err
	}
	var out []Company
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode companies: %w", err)
		}
	}
	return out, nil
}
