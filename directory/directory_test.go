package directory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/device-trust-gateway/client"
	"github.com/trustfabric/device-trust-gateway/trust"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListDevices_ClassifiesAvailability(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").Return([]trust.RawDevice{
		{MachineID: "local-machine", Address: "127.0.0.1", HTTPSPort: 443, State: trust.StateActive},
		{MachineID: "uuid-active", Address: "10.0.0.1", HTTPSPort: 443, State: trust.StateActive},
		{MachineID: "uuid-installing", Address: "10.0.0.2", HTTPSPort: 443, State: trust.StateCertificateInstall},
		{MachineID: "uuid-failed", Address: "10.0.0.3", HTTPSPort: 443, State: trust.StateFailed},
		{MachineID: "uuid-down", Address: "10.0.0.4", HTTPSPort: 443, State: trust.StateActive},
	}, nil)

	d := New(local, "", testLogger())
	d.DownSet().Add("10.0.0.4")

	devices, err := d.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 4, "the local machine must be excluded")

	byUUID := map[string]trust.Device{}
	for _, dev := range devices {
		byUUID[dev.TargetUUID] = dev
	}
	assert.True(t, byUUID["uuid-active"].Available)
	assert.False(t, byUUID["uuid-installing"].Available)
	assert.False(t, byUUID["uuid-failed"].Available)
	assert.False(t, byUUID["uuid-down"].Available)
}

func TestListDevices_MergesGroupsConcurrently(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0", "TrustDevices_1"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").Return([]trust.RawDevice{
		{MachineID: "uuid-a", Address: "10.0.0.1", HTTPSPort: 443, State: trust.StateActive},
	}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_1").Return([]trust.RawDevice{
		{MachineID: "uuid-b", Address: "10.0.0.2", HTTPSPort: 8443, State: trust.StateActive},
	}, nil)

	d := New(local, "", testLogger())
	devices, err := d.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestGetDevice_MatchesUUIDOrHost(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").Return([]trust.RawDevice{
		{MachineID: "uuid-a", Address: "10.0.0.1", HTTPSPort: 443, State: trust.StateActive},
		{MachineID: "uuid-b", Address: "10.0.0.2", HTTPSPort: 8443, State: trust.StateActive},
	}, nil)

	d := New(local, "", testLogger())

	byUUID, err := d.GetDevice(context.Background(), "uuid-b")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", byUUID.TargetHost)

	byHost, err := d.GetDevice(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "uuid-a", byHost.TargetUUID)

	_, err = d.GetDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, trust.ErrDeviceNotFound)
}

func TestGetDevice_PopulatesTargetCacheForEveryScannedDevice(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").Return([]trust.RawDevice{
		{MachineID: "uuid-a", Address: "10.0.0.1", HTTPSPort: 443, State: trust.StateActive},
		{MachineID: "uuid-b", Address: "10.0.0.2", HTTPSPort: 8443, State: trust.StateActive},
	}, nil)

	d := New(local, "", testLogger())
	_, err := d.GetDevice(context.Background(), "uuid-a")
	require.NoError(t, err)

	// uuid-b was only scanned, yet must now resolve from the cache without
	// another directory walk.
	local.AssertNumberOfCalls(t, "QueryDevices", 1)
	target, err := d.ResolveTarget(context.Background(), "uuid-b")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", target.TargetHost)
	assert.Equal(t, 8443, target.TargetPort)
	local.AssertNumberOfCalls(t, "QueryDevices", 1)
}

func TestResolveTarget_UnknownUUID(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("MachineID", mock.Anything).Return("local-machine", nil)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{}, nil)

	d := New(local, "", testLogger())
	_, err := d.ResolveTarget(context.Background(), "unknown")
	assert.ErrorIs(t, err, trust.ErrDeviceNotFound)
}

func TestMachineID_PrefersIdentityFile(t *testing.T) {
	idFile := t.TempDir() + "/machineId"
	require.NoError(t, os.WriteFile(idFile, []byte("file-machine-id\n"), 0o600))

	local := new(client.MockLocalAPI)
	d := New(local, idFile, testLogger())

	id, err := d.MachineID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-machine-id", id, "non-printable characters must be stripped")
	local.AssertNotCalled(t, "MachineID", mock.Anything)

	// Cached for the process lifetime: a second call reads nothing.
	id2, err := d.MachineID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestGetToken_CachesWithinTTL(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("FetchToken", mock.Anything, "10.0.0.1").
		Return(&trust.Token{QueryParam: "em_server_auth_token=abc", Timestamp: 1000}, nil)

	d := New(local, "", testLogger())
	clock := time.Now()
	d.now = func() time.Time { return clock }

	first, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	clock = clock.Add(time.Minute)
	second, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, clock.UnixMilli(), second.FromCacheTimestamp)
	local.AssertNumberOfCalls(t, "FetchToken", 1)

	clock = clock.Add(trust.CacheTimeout)
	third, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	local.AssertNumberOfCalls(t, "FetchToken", 2)
}

func TestGetToken_TTLStartsWhenFetchReturns(t *testing.T) {
	base := time.Now()
	clock := base

	local := new(client.MockLocalAPI)
	local.On("FetchToken", mock.Anything, "10.0.0.1").
		Run(func(args mock.Arguments) { clock = base.Add(4 * time.Minute) }).
		Return(&trust.Token{QueryParam: "em_server_auth_token=abc"}, nil).
		Once()

	d := New(local, "", testLogger())
	d.now = func() time.Time { return clock }

	first, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	// 8 minutes after the call started, but only 4 after the token arrived
	clock = base.Add(8 * time.Minute)
	second, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	local.AssertNumberOfCalls(t, "FetchToken", 1)
}

func TestGetToken_DownHostFailsWithoutFetch(t *testing.T) {
	local := new(client.MockLocalAPI)
	d := New(local, "", testLogger())
	d.DownSet().Add("10.0.0.9")

	_, err := d.GetToken(context.Background(), "10.0.0.9")
	assert.ErrorIs(t, err, trust.ErrHostUnavailable)
	local.AssertNotCalled(t, "FetchToken", mock.Anything, mock.Anything)
}

func TestFlushTokenCache_HostKeyed(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("FetchToken", mock.Anything, mock.Anything).
		Return(&trust.Token{QueryParam: "t=1"}, nil)

	d := New(local, "", testLogger())
	_, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	_, err = d.GetToken(context.Background(), "10.0.0.2")
	require.NoError(t, err)

	d.cacheTarget(trust.Device{TargetUUID: "uuid-a", TargetHost: "10.0.0.1", TargetPort: 443})
	d.cacheTarget(trust.Device{TargetUUID: "uuid-a2", TargetHost: "10.0.0.1", TargetPort: 8443})
	d.cacheTarget(trust.Device{TargetUUID: "uuid-b", TargetHost: "10.0.0.2", TargetPort: 443})

	d.FlushTokenCache("10.0.0.1")

	d.tokenMu.Lock()
	_, host1Cached := d.tokenCache["10.0.0.1"]
	_, host2Cached := d.tokenCache["10.0.0.2"]
	d.tokenMu.Unlock()
	assert.False(t, host1Cached)
	assert.True(t, host2Cached)

	d.targetMu.Lock()
	_, aCached := d.targetCache["uuid-a"]
	_, a2Cached := d.targetCache["uuid-a2"]
	_, bCached := d.targetCache["uuid-b"]
	d.targetMu.Unlock()
	assert.False(t, aCached)
	assert.False(t, a2Cached)
	assert.True(t, bCached, "entries for other hosts must be untouched")
}

func TestFlushAllCaches(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("FetchToken", mock.Anything, mock.Anything).
		Return(&trust.Token{QueryParam: "t=1"}, nil)

	d := New(local, "", testLogger())
	_, err := d.GetToken(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	d.cacheTarget(trust.Device{TargetUUID: "uuid-a", TargetHost: "10.0.0.1", TargetPort: 443})

	d.FlushAllCaches()

	d.tokenMu.Lock()
	assert.Empty(t, d.tokenCache)
	d.tokenMu.Unlock()
	d.targetMu.Lock()
	assert.Empty(t, d.targetCache)
	d.targetMu.Unlock()
}
