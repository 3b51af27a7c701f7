// Package mocks provides test doubles for the meta client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	meta "github.com/sells-group/funnel-cli/pkg/meta"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Ads provides a mock function with given fields: ctx, accessToken, adAccountID
func (_m *MockClient) Ads(ctx context.Context, accessToken string, adAccountID string) ([]meta.Ad, error) {
	ret := _m.Called(ctx, accessToken, adAccountID)

	if len(ret) == 0 {
		panic("no return value specified for Ads")
	}

	var r0 []meta.Ad
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]meta.Ad)
	}
	return r0, ret.Error(1)
}

// AdInsights provides a mock function with given fields: ctx, accessToken, adAccountID, datePreset
func (_m *MockClient) AdInsights(ctx context.Context, accessToken string, adAccountID string, datePreset string) ([]meta.AdInsight, error) {
	ret := _m.Called(ctx, accessToken, adAccountID, datePreset)

	if len(ret) == 0 {
		panic("no return value specified for AdInsights")
	}

	var r0 []meta.AdInsight
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]meta.AdInsight)
	}
	return r0, ret.Error(1)
}

// SendEvents provides a mock function with given fields: ctx, pixelID, accessToken, req
func (_m *MockClient) SendEvents(ctx context.Context, pixelID string, accessToken string, req meta.EventsRequest) (*meta.EventsResponse, error) {
	ret := _m.Called(ctx, pixelID, accessToken, req)

	if len(ret) == 0 {
		panic("no return value specified for SendEvents")
	}

	var r0 *meta.EventsResponse
	if rf, ok := ret.Get(0).(func(context.Context, string, string, meta.EventsRequest) (*meta.EventsResponse, error)); ok {
		return rf(ctx, pixelID, accessToken, req)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*meta.EventsResponse)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient and registers cleanup.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
