package reconciler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trustfabric/device-trust-gateway/client"
	"github.com/trustfabric/device-trust-gateway/trust"
)

func fullGroup(n int) []trust.RawDevice {
	devices := make([]trust.RawDevice, n)
	for i := range devices {
		devices[i] = trust.RawDevice{
			MachineID: fmt.Sprintf("uuid-%d", i),
			Address:   fmt.Sprintf("10.0.1.%d", i),
			HTTPSPort: 443,
			State:     trust.StateActive,
		}
	}
	return devices
}

func TestAllocateGroup_CreatesFirstGroup(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{}, nil)
	local.On("CreateDeviceGroup", mock.Anything, mock.MatchedBy(func(g trust.DeviceGroup) bool {
		return g.GroupName == "TrustDevices_0"
	})).Return(nil).Once()

	rec, _ := newTestReconciler(local, new(client.MockRemoteAPI))
	group, err := rec.allocateGroup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TrustDevices_0", group)
	local.AssertExpectations(t)
}

func TestAllocateGroup_PicksFirstGroupWithSpareCapacity(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0", "TrustDevices_1"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").
		Return(fullGroup(trust.MaxDevicesPerGroup), nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_1").
		Return(fullGroup(3), nil)

	rec, _ := newTestReconciler(local, new(client.MockRemoteAPI))
	group, err := rec.allocateGroup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TrustDevices_1", group)
	local.AssertNotCalled(t, "CreateDeviceGroup", mock.Anything, mock.Anything)
}

func TestAllocateGroup_SpillsToNewGroupWhenFull(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").
		Return(fullGroup(trust.MaxDevicesPerGroup), nil)
	local.On("CreateDeviceGroup", mock.Anything, mock.MatchedBy(func(g trust.DeviceGroup) bool {
		return g.GroupName == "TrustDevices_1"
	})).Return(nil).Once()

	rec, _ := newTestReconciler(local, new(client.MockRemoteAPI))
	group, err := rec.allocateGroup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TrustDevices_1", group)
	local.AssertExpectations(t)
}

func TestAllocateGroup_CreationFailureSurfaces(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{}, nil)
	upstream := &trust.UpstreamError{StatusCode: 409, Body: "conflict"}
	local.On("CreateDeviceGroup", mock.Anything, mock.Anything).Return(upstream)

	rec, _ := newTestReconciler(local, new(client.MockRemoteAPI))
	_, err := rec.allocateGroup(context.Background())
	require.Error(t, err)
	var ue *trust.UpstreamError
	assert.ErrorAs(t, err, &ue)
}

func TestFindOwningGroup(t *testing.T) {
	local := new(client.MockLocalAPI)
	local.On("QueryDeviceGroups", mock.Anything, trust.DeviceGroupPrefix).
		Return([]string{"TrustDevices_0", "TrustDevices_1"}, nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_0").
		Return(fullGroup(2), nil)
	local.On("QueryDevices", mock.Anything, "TrustDevices_1").
		Return([]trust.RawDevice{{MachineID: "uuid-target", Address: "10.0.2.1", HTTPSPort: 443}}, nil)

	rec, _ := newTestReconciler(local, new(client.MockRemoteAPI))
	group, err := rec.findOwningGroup(context.Background(), "uuid-target")
	require.NoError(t, err)
	assert.Equal(t, "TrustDevices_1", group)

	_, err = rec.findOwningGroup(context.Background(), "uuid-none")
	assert.ErrorIs(t, err, trust.ErrDeviceNotFound)
}
