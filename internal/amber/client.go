package amber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"amberbalance/pkg/models"
)

const defaultBaseURL = "https://api.amber.com.au/v1"

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 2
	userAgent      = "amberbalance/1.0"

	// Usage requests are split into windows of at most this many days; the
	// upstream API caps the range a single call may cover.
	maxFetchWindowDays = 7
)

// Client talks to the Amber Electric REST API using a personal access token.
type Client struct {
	BaseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates an API client for the given token.
func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: defaultBaseURL,
		token:   token,
		logger:  logger.With("component", "amber_client"),
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// DiscoverSites lists the site ids visible to the token.
func (c *Client) DiscoverSites(ctx context.Context) ([]string, error) {
	sites, err := c.ListSites(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sites))
	for _, s := range sites {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// ListSites fetches metadata for every site visible to the token.
func (c *Client) ListSites(ctx context.Context) ([]models.SiteInfo, error) {
	var sites []models.SiteInfo
	if err := c.getJSON(ctx, "/sites", &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// FetchSiteInfo fetches metadata for a single site. The result is used for
// display labeling only.
func (c *Client) FetchSiteInfo(ctx context.Context, siteID string) (*models.SiteInfo, error) {
	var info models.SiteInfo
	if err := c.getJSON(ctx, "/sites/"+url.PathEscape(siteID), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FetchUsage fetches interval usage records for [start, end] inclusive,
// splitting the range into sequential sub-requests of at most seven days and
// concatenating the results in order.
func (c *Client) FetchUsage(ctx context.Context, siteID string, start, end models.Date) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	cur := start
	for !cur.After(end) {
		chunkEnd := models.MinDate(cur.AddDays(maxFetchWindowDays-1), end)

		params := url.Values{}
		params.Set("startDate", cur.String())
		params.Set("endDate", chunkEnd.String())
		endpoint := fmt.Sprintf("/sites/%s/usage?%s", url.PathEscape(siteID), params.Encode())

		var chunk []models.UsageRecord
		if err := c.getJSON(ctx, endpoint, &chunk); err != nil {
			return nil, fmt.Errorf("fetching usage %s..%s: %w", cur, chunkEnd, err)
		}
		records = append(records, chunk...)

		cur = chunkEnd.AddDays(1)
	}
	c.logger.Debug("fetched usage",
		"site_id", siteID,
		"start", start.String(),
		"end", end.String(),
		"records", len(records),
	)
	return records, nil
}

// getJSON performs an authenticated GET and decodes the JSON response,
// retrying with exponential backoff on retryable statuses.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt - 1)
			c.logger.Warn("retrying request",
				"endpoint", endpoint,
				"attempt", attempt+1,
				"backoff_ms", backoff.Milliseconds(),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doGetJSON(ctx, endpoint, out)
		if err == nil {
			return nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.Retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) doGetJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		// Transport-level failures are always worth a retry
		apiErr := NewAPIError(0, endpoint, "request failed", err)
		apiErr.Retryable = true
		return apiErr
	}
	defer resp.Body.Close()

	c.logger.Debug("API request",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return NewAPIError(resp.StatusCode, endpoint, string(body), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewAPIError(resp.StatusCode, endpoint, "decoding response", err)
	}

	return nil
}

func calculateBackoff(attempt int) time.Duration {
	base := float64(time.Second)
	backoff := base * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * 0.1 * backoff
	return time.Duration(backoff + jitter)
}
