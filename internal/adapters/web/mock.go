package web

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lcalzada-xor/accessoryd/internal/core/domain"
)

// MockAccessoryService is a mock of ports.AccessoryService
type MockAccessoryService struct {
	mock.Mock
}

func (m *MockAccessoryService) Accessories(ctx context.Context) []domain.AccessoryDevice {
	args := m.Called(ctx)
	return args.Get(0).([]domain.AccessoryDevice)
}

func (m *MockAccessoryService) Telemetry(ctx context.Context) domain.TelemetryEntries {
	args := m.Called(ctx)
	return args.Get(0).(domain.TelemetryEntries)
}

func (m *MockAccessoryService) Missing(ctx context.Context) []string {
	args := m.Called(ctx)
	return args.Get(0).([]string)
}

func (m *MockAccessoryService) ForceRefresh(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// MockFeatureToggle is a mock of ports.FeatureToggle
type MockFeatureToggle struct {
	mock.Mock
}

func (m *MockFeatureToggle) FeatureEnabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockFeatureToggle) SetFeatureEnabled(enabled bool) {
	m.Called(enabled)
}
