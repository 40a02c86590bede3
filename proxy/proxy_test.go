package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/device-trust-gateway/client"
	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/trust"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProxy wires a SigningProxy to a TLS test server posing as the
// trusted device, with the directory resolving deviceUUID to it.
func newTestProxy(t *testing.T, handler http.HandlerFunc) (*SigningProxy, *httptest.Server) {
	t.Helper()

	remote := httptest.NewTLSServer(handler)
	t.Cleanup(remote.Close)

	u, err := url.Parse(remote.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").Return([]trust.RawDevice{
		{MachineID: "device-1", Address: host, HTTPSPort: port, State: trust.StateActive},
	}, nil)
	local.On("FetchToken", mock.Anything, host).
		Return(&trust.Token{QueryParam: "em_server_auth_token=tok123"}, nil)

	dir := directory.New(local, "", testLogger())
	return New(dir, testLogger()), remote
}

func TestProxyForwardsSignedRequest(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[]}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/TrustedProxy/device-1/mgmt/shared/echo", nil)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "device-1", "/mgmt/shared/echo")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/mgmt/shared/echo", gotPath)
	require.Equal(t, "em_server_auth_token=tok123", gotQuery)
}

func TestProxyMergesExistingQuery(t *testing.T) {
	var gotQuery string
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/TrustedProxy/device-1/mgmt/tm/sys?$select=name", nil)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "device-1", "/mgmt/tm/sys?$select=name")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "$select=name&em_server_auth_token=tok123", gotQuery)
}

func TestProxyStreamsRequestBody(t *testing.T) {
	var gotBody string
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	})

	body := strings.NewReader(`{"name":"vs1"}`)
	req := httptest.NewRequest(http.MethodPost, "/TrustedProxy/device-1/mgmt/tm/ltm/virtual", body)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "device-1", "/mgmt/tm/ltm/virtual")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"name":"vs1"}`, gotBody)
}

func TestProxyMirrorsRemoteErrorStatus(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"err":"busy"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/TrustedProxy/device-1/mgmt/tm/sys/version", nil)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "device-1", "/mgmt/tm/sys/version")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"err":"busy"}`, rec.Body.String())
}

func TestProxyUnknownDeviceRespondsNotFound(t *testing.T) {
	p, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("remote must not be called for an unknown device")
	})

	req := httptest.NewRequest(http.MethodGet, "/TrustedProxy/no-such-device/mgmt/shared/echo", nil)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "no-such-device", "/mgmt/shared/echo")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"message":"target device: no-such-device not found."}`, rec.Body.String())
}

func TestProxyDownHostFails(t *testing.T) {
	var remoteCalled bool
	p, remote := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		remoteCalled = true
	})

	u, err := url.Parse(remote.URL)
	require.NoError(t, err)
	host, _, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p.dir.DownSet().Add(host)

	req := httptest.NewRequest(http.MethodGet, "/TrustedProxy/device-1/mgmt/shared/echo", nil)
	rec := httptest.NewRecorder()
	p.Proxy(rec, req, "device-1", "/mgmt/shared/echo")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, remoteCalled)
}
