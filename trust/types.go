package trust

import (
	"fmt"
	"time"
)

// Management API constants shared by the gateway components. Paths and ports
// are fixed by the management platform, not configurable per call.
const (
	// DeviceGroupPrefix names the device groups owned by this gateway.
	DeviceGroupPrefix = "TrustDevices_"

	// MaxDevicesPerGroup is the capacity ceiling of one device group.
	MaxDevicesPerGroup = 20

	// CacheTimeout bounds the lifetime of cached tokens and cached target
	// coordinates. Expiry is computed at read time.
	CacheTimeout = 5 * time.Minute

	// CertificatesPath is the device-certificates collection, present on
	// both the local and the remote management API.
	CertificatesPath = "/mgmt/shared/device-certificates"

	// DeviceGroupsPath is the local device-group collection.
	DeviceGroupsPath = "/mgmt/shared/resolver/device-groups"

	// DeviceInfoPath reports the local machine identity.
	DeviceInfoPath = "/mgmt/shared/identified-devices/config/device-info"

	// EchoPath is the remote liveness endpoint.
	EchoPath = "/mgmt/shared/echo"

	// UsersPath is the remote user collection, used to remove injected
	// service accounts.
	UsersPath = "/mgmt/shared/authz/users"

	// TokenPath issues trust tokens on the local management API.
	TokenPath = "/shared/token"

	// EchoStageStarted is the stage a healthy remote device reports.
	EchoStageStarted = "STARTED"
)

// DeviceState is the remote registration lifecycle status of a trusted
// device. The state machine is owned by the management platform; the gateway
// only observes it.
type DeviceState string

const (
	StateUndiscovered       DeviceState = "UNDISCOVERED"
	StatePending            DeviceState = "PENDING"
	StateFrameworkDeploying DeviceState = "FRAMEWORK_DEPLOYMENT_PENDING"
	StateCertificateInstall DeviceState = "CERTIFICATE_INSTALL"
	StatePendingDelete      DeviceState = "PENDING_DELETE"
	StateActive             DeviceState = "ACTIVE"
	StateFailed             DeviceState = "FAILED"
	StateError              DeviceState = "ERROR"
)

// InProgress reports whether the state is part of the registration or
// teardown flow. In-progress devices are kept during reconciliation but are
// not available for proxying.
func (s DeviceState) InProgress() bool {
	switch s {
	case StateUndiscovered, StatePending, StateFrameworkDeploying,
		StateCertificateInstall, StatePendingDelete:
		return true
	}
	return false
}

// Failed reports whether the state is a terminal failure. Failed devices are
// replaced on the next declaration.
func (s DeviceState) Failed() bool {
	return s == StateFailed || s == StateError
}

// Device is the gateway's view of a trusted remote endpoint. The management
// platform is the source of truth; the gateway never persists devices.
type Device struct {
	TargetUUID        string      `json:"targetUUID,omitempty"`
	TargetHost        string      `json:"targetHost"`
	TargetPort        int         `json:"targetPort,omitempty"`
	State             DeviceState `json:"state,omitempty"`
	Available         bool        `json:"available"`
	TargetHostname    string      `json:"targetHostname,omitempty"`
	TargetVersion     string      `json:"targetVersion,omitempty"`
	TargetRESTVersion string      `json:"targetRESTVersion,omitempty"`

	// Credentials are used only on declarations; they are never returned by
	// listings.
	TargetUsername   string `json:"targetUsername,omitempty"`
	TargetPassphrase string `json:"targetPassphrase,omitempty"`
	TargetSSHKey     string `json:"targetSSHKey,omitempty"`
}

// Key identifies a device within a declaration. Devices are keyed by
// host:port, not UUID, because declared devices have no UUID yet.
func (d Device) Key() string {
	return fmt.Sprintf("%s:%d", d.TargetHost, d.TargetPort)
}

// HasCredentials reports whether the device declaration carries a usable
// authentication credential: a username with either a passphrase or the name
// of an installed SSH identity file.
func (d Device) HasCredentials() bool {
	if d.TargetUsername == "" {
		return false
	}
	return d.TargetPassphrase != "" || d.TargetSSHKey != ""
}

// Target holds the connection coordinates of a resolved device.
type Target struct {
	TargetHost string `json:"targetHost"`
	TargetPort int    `json:"targetPort"`
}

// Token is a short-lived credential for one remote host, as issued by the
// local management token endpoint. The target fields are populated only on
// API responses that augment the token with its device coordinates.
type Token struct {
	Token      string `json:"token,omitempty"`
	QueryParam string `json:"queryParam"`
	Timestamp  int64  `json:"timestamp,omitempty"`

	FromCache          bool  `json:"fromCache,omitempty"`
	FromCacheTimestamp int64 `json:"fromCacheTimestamp,omitempty"`

	TargetUUID string `json:"targetUUID,omitempty"`
	TargetHost string `json:"targetHost,omitempty"`
	TargetPort int    `json:"targetPort,omitempty"`
}

// DeviceGroup is a local management device-group resource.
type DeviceGroup struct {
	GroupName   string `json:"groupName"`
	Display     string `json:"display,omitempty"`
	Description string `json:"description,omitempty"`
}

// RawDevice is a device resource as the local management API reports it
// inside a device group.
type RawDevice struct {
	MachineID            string      `json:"machineId"`
	Address              string      `json:"address"`
	HTTPSPort            int         `json:"httpsPort"`
	State                DeviceState `json:"state"`
	Hostname             string      `json:"hostname"`
	Version              string      `json:"version"`
	RESTFrameworkVersion string      `json:"restFrameworkVersion"`
}

// Certificate is a device-certificate resource.
type Certificate struct {
	CertificateID string `json:"certificateId"`
	MachineID     string `json:"machineId"`
}

// User is a management user resource on a remote device.
type User struct {
	Name string `json:"name"`
}
