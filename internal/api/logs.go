package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"raid-attendance/internal/config"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// LogsClient talks to the external raid log provider.
type LogsClient struct {
	baseURL     string
	apiKey      string
	client      *fasthttp.Client
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("logs API error: %d", e.StatusCode)
}

func NewLogsClient(cfg *config.Config) *LogsClient {
	return &LogsClient{
		baseURL: strings.TrimRight(cfg.LogsAPIURL, "/"),
		apiKey:  cfg.LogsAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		rateLimit: RateLimitInfo{
			Limit:     300,
			Remaining: 300,
			Reset:     3600,
			UpdatedAt: time.Now(),
		},
	}
}

func (c *LogsClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *LogsClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-Ratelimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-Ratelimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-Ratelimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// GetGuildReports lists reports uploaded for a guild since the given instant.
func (c *LogsClient) GetGuildReports(ctx context.Context, guildID string, since time.Time) ([]ReportSummary, error) {
	u := fmt.Sprintf("%s/reports/guild/%s?start=%d", c.baseURL, url.PathEscape(guildID), since.UnixMilli())
	reports, err := doRequest[[]ReportSummary](ctx, c, u)
	if err != nil {
		return nil, err
	}
	return *reports, nil
}

func (c *LogsClient) GetReportAttendance(ctx context.Context, code string) (*ReportAttendanceResponse, error) {
	u := fmt.Sprintf("%s/report/attendance/%s", c.baseURL, url.PathEscape(code))
	return doRequest[ReportAttendanceResponse](ctx, c, u)
}

func doRequest[T any](ctx context.Context, client *LogsClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+client.apiKey)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, err
		}
	}

	client.updateRateLimit(resp)

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode(), URL: url}
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ReportSummary struct {
	Code  string   `json:"id"`
	Title string   `json:"title"`
	Zone  string   `json:"zone"`
	Start int64    `json:"start"` // unix ms
	End   int64    `json:"end"`   // unix ms
	Tags  []string `json:"tags"`
}

func (r ReportSummary) StartedAt() time.Time { return time.UnixMilli(r.Start).UTC() }

func (r ReportSummary) EndedAt() time.Time { return time.UnixMilli(r.End).UTC() }

type ReportAttendanceResponse struct {
	Code      string           `json:"code"`
	Attendees []AttendeeRecord `json:"attendees"`
}

type AttendeeRecord struct {
	Name     string `json:"name"`
	Presence int    `json:"presence"`
}
