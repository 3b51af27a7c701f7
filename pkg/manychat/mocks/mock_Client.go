// Package mocks provides test doubles for the manychat client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	manychat "github.com/sells-group/funnel-cli/pkg/manychat"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// GetSubscriber provides a mock function with given fields: ctx, apiKey, subscriberID
func (_m *MockClient) GetSubscriber(ctx context.Context, apiKey string, subscriberID string) (*manychat.Subscriber, error) {
	ret := _m.Called(ctx, apiKey, subscriberID)

	if len(ret) == 0 {
		panic("no return value specified for GetSubscriber")
	}

	var r0 *manychat.Subscriber
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*manychat.Subscriber, error)); ok {
		return rf(ctx, apiKey, subscriberID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*manychat.Subscriber)
	}
	r1 = ret.Error(1)

	return r0, r1
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
