// Package meta talks to the Meta Graph API: ad insights and the
// Conversions API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/funnel-cli/internal/resilience"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
)

// Client performs Graph API operations. Tokens are per call because each
// tenant may bring its own.
type Client interface {
	Ads(ctx context.Context, accessToken, adAccountID string) ([]Ad, error)
	AdInsights(ctx context.Context, accessToken, adAccountID, datePreset string) ([]AdInsight, error)
	SendEvents(ctx context.Context, pixelID, accessToken string, req EventsRequest) (*EventsResponse, error)
}

// Ad is one ad in the account.
type Ad struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AdsetID    string `json:"adset_id"`
	CampaignID string `json:"campaign_id"`
	Status     string `json:"effective_status"`
}

// Action is one entry of an insight's actions list.
type Action struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

// AdInsight is one ad-level insights row. Graph returns numbers as strings.
type AdInsight struct {
	AdID        string   `json:"ad_id"`
	AdName      string   `json:"ad_name"`
	AdsetID     string   `json:"adset_id"`
	CampaignID  string   `json:"campaign_id"`
	DateStart   string   `json:"date_start"`
	DateStop    string   `json:"date_stop"`
	Spend       string   `json:"spend"`
	Impressions string   `json:"impressions"`
	Clicks      string   `json:"clicks"`
	Reach       string   `json:"reach"`
	CTR         string   `json:"ctr"`
	CPC         string   `json:"cpc"`
	Actions     []Action `json:"actions"`
}

// ActionValue returns the count recorded for actionType, or 0.
func (a AdInsight) ActionValue(actionType string) int64 {
	for _, act := range a.Actions {
		if act.ActionType == actionType {
			return ParseInt(act.Value)
		}
	}
	return 0
}

// Leads returns the on-platform lead count.
func (a AdInsight) Leads() int64 { return a.ActionValue("lead") }

// ParseFloat parses a Graph numeric string; malformed values are 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// ParseInt parses a Graph integer string; malformed values are 0.
func ParseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return int64(ParseFloat(s))
	}
	return n
}

// UserData is hashed identity as the Conversions API expects it.
type UserData struct {
	Email      []string `json:"em,omitempty"`
	Phone      []string `json:"ph,omitempty"`
	FirstName  []string `json:"fn,omitempty"`
	LastName   []string `json:"ln,omitempty"`
	ExternalID []string `json:"external_id,omitempty"`
	FBP        string   `json:"fbp,omitempty"`
	FBC        string   `json:"fbc,omitempty"`
}

// CustomData carries purchase value.
type CustomData struct {
	Value       float64 `json:"value,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	ContentName string  `json:"content_name,omitempty"`
}

// ServerEvent is one Conversions API event.
type ServerEvent struct {
	EventName    string      `json:"event_name"`
	EventTime    int64       `json:"event_time"`
	EventID      string      `json:"event_id"`
	ActionSource string      `json:"action_source"`
	UserData     UserData    `json:"user_data"`
	CustomData   *CustomData `json:"custom_data,omitempty"`
}

// EventsRequest is the body of POST /{pixel}/events.
type EventsRequest struct {
	Data          []ServerEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

// EventsResponse is Meta's acknowledgement.
type EventsResponse struct {
	EventsReceived int      `json:"events_received"`
	Messages       []string `json:"messages"`
	FBTraceID      string   `json:"fbtrace_id"`
}

// APIError is a Graph error envelope.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
	Status    int    `json:"-"`
}

func (e *APIError) Error() string {
	return "meta: " + e.Message + " (code " + strconv.Itoa(e.Code) + ", status " + strconv.Itoa(e.Status) + ")"
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the Graph host.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		if v != "" {
			c.version = v
		}
	}
}

// WithRateLimit throttles requests to rps. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) { c.breaker = cb }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	version string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Graph API client.
func NewClient(opts ...Option) Client {
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.OnStateChange = resilience.LogStateChange("meta")
	// Only upstream trouble trips the breaker; a bad token is not an outage.
	cbCfg.ShouldTrip = resilience.IsTransient
	c := &httpClient{
		baseURL: defaultBaseURL,
		version: defaultAPIVersion,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		breaker: resilience.NewCircuitBreaker(cbCfg),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (c *httpClient) Ads(ctx context.Context, accessToken, adAccountID string) ([]Ad, error) {
	q := url.Values{}
	q.Set("access_token", accessToken)
	q.Set("fields", "id,name,adset_id,campaign_id,effective_status")
	q.Set("limit", "500")
	return getAll[Ad](ctx, c, c.endpoint(adAccountID, "ads")+"?"+q.Encode())
}

func (c *httpClient) AdInsights(ctx context.Context, accessToken, adAccountID, datePreset string) ([]AdInsight, error) {
	if datePreset == "" {
		datePreset = "last_7d"
	}
	q := url.Values{}
	q.Set("access_token", accessToken)
	q.Set("level", "ad")
	q.Set("date_preset", datePreset)
	q.Set("fields", "ad_id,ad_name,adset_id,campaign_id,date_start,date_stop,spend,impressions,clicks,reach,ctr,cpc,actions")
	q.Set("limit", "500")
	return getAll[AdInsight](ctx, c, c.endpoint(adAccountID, "insights")+"?"+q.Encode())
}

func (c *httpClient) SendEvents(ctx context.Context, pixelID, accessToken string, req EventsRequest) (*EventsResponse, error) {
	if pixelID == "" || accessToken == "" {
		return nil, eris.New("meta: pixel id and access token are required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "meta: marshal events")
	}
	u := c.endpoint(pixelID, "events") + "?access_token=" + url.QueryEscape(accessToken)

	var out EventsResponse
	if err := c.do(ctx, http.MethodPost, u, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) endpoint(node, edge string) string {
	return c.baseURL + "/" + c.version + "/" + node + "/" + edge
}

// getAll follows paging.next until exhausted.
func getAll[T any](ctx context.Context, c *httpClient, u string) ([]T, error) {
	var all []T
	for u != "" {
		var p page[T]
		if err := c.do(ctx, http.MethodGet, u, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)
		u = p.Paging.Next
	}
	return all, nil
}

func (c *httpClient) do(ctx context.Context, method, u string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "meta: rate limit")
		}
	}
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return eris.Wrap(err, "meta: create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "meta: send request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "meta: read response")
		}

		if resp.StatusCode != http.StatusOK {
			var env struct {
				Error APIError `json:"error"`
			}
			_ = json.Unmarshal(raw, &env)
			apiErr := &env.Error
			apiErr.Status = resp.StatusCode
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return apiErr
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return eris.Wrap(err, "meta: unmarshal response")
		}
		return nil
	})
}
