package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/resilience"
)

func newTestClient(url string, opts ...Option) Client {
	return NewClient(append([]Option{WithBaseURL(url), WithRateLimit(0)}, opts...)...)
}

func TestAdInsights_FollowsPaging(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			assert.Equal(t, "/v21.0/act_123/insights", r.URL.Path)
			assert.Equal(t, "ad", r.URL.Query().Get("level"))
			assert.Equal(t, "last_7d", r.URL.Query().Get("date_preset"))
			assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
			_, _ = w.Write([]byte(`{"data":[{"ad_id":"1","ad_name":"Ad One","spend":"12.50","impressions":"1000","clicks":"40","reach":"800","ctr":"4.0","cpc":"0.31","actions":[{"action_type":"lead","value":"3"},{"action_type":"link_click","value":"38"}]}],
				"paging":{"next":"` + srv.URL + `/v21.0/act_123/insights?after=abc"}}`))
			return
		}
		assert.Equal(t, "abc", r.URL.Query().Get("after"))
		_, _ = w.Write([]byte(`{"data":[{"ad_id":"2","spend":"0"}],"paging":{}}`))
	}))
	defer srv.Close()

	rows, err := newTestClient(srv.URL).AdInsights(context.Background(), "tok", "act_123", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.InDelta(t, 12.5, ParseFloat(rows[0].Spend), 0.001)
	assert.Equal(t, int64(1000), ParseInt(rows[0].Impressions))
	assert.Equal(t, int64(3), rows[0].Leads())
	assert.Equal(t, int64(0), rows[1].Leads())
	assert.Equal(t, int32(2), calls.Load())
}

func TestAds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/act_9/ads", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"1","name":"Hook A","adset_id":"s","campaign_id":"c","effective_status":"ACTIVE"}]}`))
	}))
	defer srv.Close()

	ads, err := newTestClient(srv.URL, WithAPIVersion("v19.0")).Ads(context.Background(), "tok", "act_9")
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "Hook A", ads[0].Name)
	assert.Equal(t, "ACTIVE", ads[0].Status)
}

func TestSendEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/px1/events", r.URL.Path)
		assert.Equal(t, "capi-tok", r.URL.Query().Get("access_token"))

		var req EventsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Data, 1)
		assert.Equal(t, "Purchase", req.Data[0].EventName)
		assert.Equal(t, []string{HashEmail("a@example.com")}, req.Data[0].UserData.Email)
		assert.Equal(t, "TEST123", req.TestEventCode)

		_, _ = w.Write([]byte(`{"events_received":1,"fbtrace_id":"tr"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).SendEvents(context.Background(), "px1", "capi-tok", EventsRequest{
		Data: []ServerEvent{{
			EventName:    "Purchase",
			EventTime:    time.Now().Unix(),
			EventID:      "evt-1",
			ActionSource: "website",
			UserData:     UserData{Email: []string{HashEmail("a@example.com")}},
			CustomData:   &CustomData{Value: 2500, Currency: "USD"},
		}},
		TestEventCode: "TEST123",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.EventsReceived)
}

func TestSendEvents_MissingCredentials(t *testing.T) {
	_, err := NewClient().SendEvents(context.Background(), "", "tok", EventsRequest{})
	assert.Error(t, err)
}

func TestAPIError_Permanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Ads(context.Background(), "bad", "act_1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 190, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.False(t, resilience.IsTransient(err))
}

func TestServerError_TripsBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold:  2,
		ResetTimeout:      time.Minute,
		HalfOpenMaxProbes: 1,
		ShouldTrip:        resilience.IsTransient,
	})
	c := newTestClient(srv.URL, WithCircuitBreaker(cb))

	for i := 0; i < 2; i++ {
		_, err := c.Ads(context.Background(), "tok", "act_1")
		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err))
	}

	_, err := c.Ads(context.Background(), "tok", "act_1")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestParseHelpers(t *testing.T) {
	assert.Zero(t, ParseFloat("abc"))
	assert.Equal(t, int64(7), ParseInt("7.9"))
	assert.Equal(t, int64(0), ParseInt(""))
}
