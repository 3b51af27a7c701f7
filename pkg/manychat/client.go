// Package manychat reads subscriber profiles from the ManyChat API.
package manychat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.manychat.com"

// Client performs ManyChat API operations.
type Client interface {
	GetSubscriber(ctx context.Context, apiKey, subscriberID string) (*Subscriber, error)
}

// Subscriber is a ManyChat contact profile. It is also the shape ManyChat
// posts in its external request payloads.
type Subscriber struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	FirstName     string       `json:"first_name"`
	LastName      string       `json:"last_name"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone"`
	WhatsAppPhone string       `json:"whatsapp_phone"`
	IGUsername    string       `json:"ig_username"`
	CustomFields  CustomFields `json:"custom_fields"`
}

// BestPhone returns the SMS phone, else the WhatsApp phone.
func (s *Subscriber) BestPhone() string {
	if s.Phone != "" {
		return s.Phone
	}
	return s.WhatsAppPhone
}

// CustomFields maps field name to value. ManyChat sends an object in
// webhooks and a list of {name, value} entries from getInfo; both decode.
type CustomFields map[string]any

// UnmarshalJSON accepts either representation.
func (f *CustomFields) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] == '[' {
		var list []struct {
			Name  string `json:"name"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		out := make(CustomFields, len(list))
		for _, e := range list {
			out[e.Name] = e.Value
		}
		*f = out
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*f = m
	return nil
}

// String returns the first of keys holding a non-empty value, rendered as
// a string. Booleans and numbers are formatted; false and zero are empty.
func (f CustomFields) String(keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case bool:
			if v {
				return "true"
			}
		case float64:
			if v != 0 {
				return fmt.Sprintf("%v", v)
			}
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
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

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a ManyChat client. The API key is per call because
// tenants carry their own.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type getInfoResponse struct {
	Status string     `json:"status"`
	Data   Subscriber `json:"data"`
}

func (c *httpClient) GetSubscriber(ctx context.Context, apiKey, subscriberID string) (*Subscriber, error) {
	if apiKey == "" {
		return nil, eris.New("manychat: api key is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "manychat: rate limit")
		}
	}

	u := c.baseURL + "/fb/subscriber/getInfo?subscriber_id=" + url.QueryEscape(subscriberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "manychat: create request")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "manychat: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "manychat: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("manychat: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out getInfoResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "manychat: unmarshal response")
	}
	if out.Status != "success" {
		return nil, eris.Errorf("manychat: getInfo status %q", out.Status)
	}
	return &out.Data, nil
}
