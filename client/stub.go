package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// StubLocalAPI is an in-memory trust.LocalAPI for development without a
// management platform. Created devices register as ACTIVE immediately.
type StubLocalAPI struct {
	mu        sync.Mutex
	machineID string
	groups    map[string][]trust.RawDevice
	certs     []trust.Certificate
}

// NewStubLocalAPI creates an empty stub backend.
func NewStubLocalAPI() *StubLocalAPI {
	return &StubLocalAPI{
		machineID: uuid.NewString(),
		groups:    make(map[string][]trust.RawDevice),
	}
}

func (s *StubLocalAPI) QueryDeviceGroups(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for name := range s.groups {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *StubLocalAPI) CreateDeviceGroup(ctx context.Context, group trust.DeviceGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.GroupName]; ok {
		return &trust.UpstreamError{StatusCode: 409, Body: "group exists"}
	}
	s.groups[group.GroupName] = []trust.RawDevice{}
	return nil
}

func (s *StubLocalAPI) QueryDevices(ctx context.Context, group string) ([]trust.RawDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.groups[group]
	if !ok {
		return nil, &trust.UpstreamError{StatusCode: 404, Body: "group not found"}
	}
	return append([]trust.RawDevice{}, devices...), nil
}

func (s *StubLocalAPI) CreateDevice(ctx context.Context, group, host string, port int, username, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.groups[group]
	if !ok {
		return &trust.UpstreamError{StatusCode: 404, Body: "group not found"}
	}
	s.groups[group] = append(devices, trust.RawDevice{
		MachineID: uuid.NewString(),
		Address:   host,
		HTTPSPort: port,
		State:     trust.StateActive,
		Hostname:  host,
	})
	return nil
}

func (s *StubLocalAPI) DeleteDevice(ctx context.Context, group, machineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, ok := s.groups[group]
	if !ok {
		return &trust.UpstreamError{StatusCode: 404, Body: "group not found"}
	}
	for i, dev := range devices {
		if dev.MachineID == machineID {
			s.groups[group] = append(devices[:i], devices[i+1:]...)
			return nil
		}
	}
	return &trust.UpstreamError{StatusCode: 404, Body: "device not found"}
}

func (s *StubLocalAPI) QueryCertificates(ctx context.Context) ([]trust.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]trust.Certificate{}, s.certs...), nil
}

func (s *StubLocalAPI) DeleteCertificate(ctx context.Context, certificateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cert := range s.certs {
		if cert.CertificateID == certificateID {
			s.certs = append(s.certs[:i], s.certs[i+1:]...)
			return nil
		}
	}
	return &trust.UpstreamError{StatusCode: 404, Body: "certificate not found"}
}

func (s *StubLocalAPI) MachineID(ctx context.Context) (string, error) {
	return s.machineID, nil
}

func (s *StubLocalAPI) FetchToken(ctx context.Context, host string) (*trust.Token, error) {
	token := uuid.NewString()
	return &trust.Token{
		Token:      token,
		QueryParam: fmt.Sprintf("em_server_auth_token=%s", token),
	}, nil
}

// StubRemoteAPI is an in-memory trust.RemoteAPI whose devices always report
// a healthy stage.
type StubRemoteAPI struct{}

func NewStubRemoteAPI() *StubRemoteAPI {
	return &StubRemoteAPI{}
}

func (s *StubRemoteAPI) Echo(ctx context.Context, host string, port int, token *trust.Token) (string, error) {
	return trust.EchoStageStarted, nil
}

func (s *StubRemoteAPI) QueryCertificates(ctx context.Context, host string, port int, token *trust.Token) ([]trust.Certificate, error) {
	return []trust.Certificate{}, nil
}

func (s *StubRemoteAPI) DeleteCertificate(ctx context.Context, host string, port int, token *trust.Token, certificateID string) error {
	return nil
}

func (s *StubRemoteAPI) DeleteUser(ctx context.Context, host string, port int, token *trust.Token, username string) error {
	return nil
}
