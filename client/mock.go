package client

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/trustfabric/device-trust-gateway/trust"
)

// MockLocalAPI implements a mock trust.LocalAPI for testing. The behavior is
// determined by how the mock is configured in tests.
type MockLocalAPI struct {
	mock.Mock
}

func (m *MockLocalAPI) QueryDeviceGroups(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockLocalAPI) CreateDeviceGroup(ctx context.Context, group trust.DeviceGroup) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *MockLocalAPI) QueryDevices(ctx context.Context, group string) ([]trust.RawDevice, error) {
	args := m.Called(ctx, group)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]trust.RawDevice), args.Error(1)
}

func (m *MockLocalAPI) CreateDevice(ctx context.Context, group, host string, port int, username, passphrase string) error {
	args := m.Called(ctx, group, host, port, username, passphrase)
	return args.Error(0)
}

func (m *MockLocalAPI) DeleteDevice(ctx context.Context, group, machineID string) error {
	args := m.Called(ctx, group, machineID)
	return args.Error(0)
}

func (m *MockLocalAPI) QueryCertificates(ctx context.Context) ([]trust.Certificate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]trust.Certificate), args.Error(1)
}

func (m *MockLocalAPI) DeleteCertificate(ctx context.Context, certificateID string) error {
	args := m.Called(ctx, certificateID)
	return args.Error(0)
}

func (m *MockLocalAPI) MachineID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockLocalAPI) FetchToken(ctx context.Context, host string) (*trust.Token, error) {
	args := m.Called(ctx, host)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trust.Token), args.Error(1)
}

// MockRemoteAPI implements a mock trust.RemoteAPI for testing.
type MockRemoteAPI struct {
	mock.Mock
}

func (m *MockRemoteAPI) Echo(ctx context.Context, host string, port int, token *trust.Token) (string, error) {
	args := m.Called(ctx, host, port, token)
	return args.String(0), args.Error(1)
}

func (m *MockRemoteAPI) QueryCertificates(ctx context.Context, host string, port int, token *trust.Token) ([]trust.Certificate, error) {
	args := m.Called(ctx, host, port, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]trust.Certificate), args.Error(1)
}

func (m *MockRemoteAPI) DeleteCertificate(ctx context.Context, host string, port int, token *trust.Token, certificateID string) error {
	args := m.Called(ctx, host, port, token, certificateID)
	return args.Error(0)
}

func (m *MockRemoteAPI) DeleteUser(ctx context.Context, host string, port int, token *trust.Token, username string) error {
	args := m.Called(ctx, host, port, token, username)
	return args.Error(0)
}
