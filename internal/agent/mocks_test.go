package agent

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// -- Browser Handle Mock --

type MockBrowser struct {
	mock.Mock
}

var _ schemas.BrowserHandle = (*MockBrowser)(nil)

func (m *MockBrowser) Open(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBrowser) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockBrowser) Click(ctx context.Context, target schemas.ClickTarget) error {
	return m.Called(ctx, target).Error(0)
}

func (m *MockBrowser) Type(ctx context.Context, text, selector string, submit bool) error {
	return m.Called(ctx, text, selector, submit).Error(0)
}

func (m *MockBrowser) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	return m.Called(ctx, direction, amount).Error(0)
}

func (m *MockBrowser) Extract(ctx context.Context, selector string) (schemas.ExtractResult, error) {
	args := m.Called(ctx, selector)
	return args.Get(0).(schemas.ExtractResult), args.Error(1)
}

func (m *MockBrowser) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBrowser) Observe(ctx context.Context) (schemas.Observation, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Observation), args.Error(1)
}

func (m *MockBrowser) Alive(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockBrowser) Close() error {
	return m.Called().Error(0)
}

// -- Reasoning Provider Mock --

type MockProvider struct {
	mock.Mock
}

var _ schemas.ReasoningProvider = (*MockProvider)(nil)

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Decide(ctx context.Context, conv schemas.Conversation) (schemas.Action, error) {
	args := m.Called(ctx, conv)
	return args.Get(0).(schemas.Action), args.Error(1)
}

// -- Memory Store Mock --

type MockStore struct {
	mock.Mock
}

var _ schemas.MemoryStore = (*MockStore)(nil)

func (m *MockStore) Append(ctx context.Context, sessionID, input string, step schemas.Step) error {
	return m.Called(ctx, sessionID, input, step).Error(0)
}

func (m *MockStore) Load(ctx context.Context, sessionID string) (*schemas.SessionRecord, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.SessionRecord), args.Error(1)
}

func (m *MockStore) List(ctx context.Context) ([]schemas.SessionSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.SessionSummary), args.Error(1)
}

func (m *MockStore) Close() error {
	return m.Called().Error(0)
}
