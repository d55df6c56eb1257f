// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/walkthrough/api/schemas"
	"github.com/xkilldash9x/walkthrough/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	return m.Called().Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	return m.Called().Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	return m.Called().Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Runner() config.RunnerConfig {
	return m.Called().Get(0).(config.RunnerConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	return m.Called().Get(0).(config.EngineConfig)
}

func (m *MockConfig) Scenario() config.ScenarioConfig {
	return m.Called().Get(0).(config.ScenarioConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	return m.Called().Get(0).(config.ReportConfig)
}

// -- Driver Mocks --

// Handle is an ElementHandle for use with MockUiDriver expectations.
type Handle string

func (h Handle) String() string { return string(h) }

// MockUiDriver mocks schemas.UiDriver.
type MockUiDriver struct {
	mock.Mock
}

var _ schemas.UiDriver = (*MockUiDriver)(nil)

func (m *MockUiDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockUiDriver) Find(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	args := m.Called(ctx, selector)
	el, _ := args.Get(0).(schemas.ElementHandle)
	return el, args.Error(1)
}

func (m *MockUiDriver) FindAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	args := m.Called(ctx, selector)
	els, _ := args.Get(0).([]schemas.ElementHandle)
	return els, args.Error(1)
}

func (m *MockUiDriver) Click(ctx context.Context, el schemas.ElementHandle) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockUiDriver) Type(ctx context.Context, el schemas.ElementHandle, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockUiDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockUiDriver) TextOf(ctx context.Context, el schemas.ElementHandle) (string, error) {
	args := m.Called(ctx, el)
	return args.String(0), args.Error(1)
}

func (m *MockUiDriver) PageText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockSession mocks schemas.Session.
type MockSession struct {
	MockUiDriver
}

var _ schemas.Session = (*MockSession)(nil)

func (m *MockSession) ID() string                      { return m.Called().String(0) }
func (m *MockSession) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

// MockSessionFactory mocks schemas.SessionFactory.
type MockSessionFactory struct {
	mock.Mock
}

var _ schemas.SessionFactory = (*MockSessionFactory)(nil)

func (m *MockSessionFactory) NewSession(ctx context.Context) (schemas.Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(schemas.Session)
	return s, args.Error(1)
}

// -- Store Mock --

// MockStore mocks schemas.Store.
type MockStore struct {
	mock.Mock
}

var _ schemas.Store = (*MockStore)(nil)

func (m *MockStore) SaveSummary(ctx context.Context, summary *schemas.RunSummary) error {
	return m.Called(ctx, summary).Error(0)
}

func (m *MockStore) GetSummary(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	args := m.Called(ctx, runID)
	s, _ := args.Get(0).(*schemas.RunSummary)
	return s, args.Error(1)
}

// -- Helpers --

// Handles converts ids into a handle slice for FindAll expectations.
func Handles(ids ...string) []schemas.ElementHandle {
	out := make([]schemas.ElementHandle, len(ids))
	for i, id := range ids {
		out[i] = Handle(id)
	}
	return out
}

// NumberedHandles returns n distinct handles named prefix-0 .. prefix-(n-1).
func NumberedHandles(prefix string, n int) []schemas.ElementHandle {
	out := make([]schemas.ElementHandle, n)
	for i := range out {
		out[i] = Handle(fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}
