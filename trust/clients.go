package trust

import "context"

// LocalAPI is the contract toward the local management REST API: device
// groups, devices, certificates, machine identity and token issuance. It is
// reached over plain HTTP on a fixed local port with static basic-auth
// credentials.
type LocalAPI interface {
	// QueryDeviceGroups lists group names carrying the given prefix.
	QueryDeviceGroups(ctx context.Context, prefix string) ([]string, error)

	// CreateDeviceGroup creates a named device group.
	CreateDeviceGroup(ctx context.Context, group DeviceGroup) error

	// QueryDevices lists the devices inside one group.
	QueryDevices(ctx context.Context, group string) ([]RawDevice, error)

	// CreateDevice adds a device to a group, establishing the trust.
	CreateDevice(ctx context.Context, group, host string, port int, username, passphrase string) error

	// DeleteDevice removes a device resource from its group.
	DeleteDevice(ctx context.Context, group, machineID string) error

	// QueryCertificates lists the local device certificates.
	QueryCertificates(ctx context.Context) ([]Certificate, error)

	// DeleteCertificate removes one local device certificate.
	DeleteCertificate(ctx context.Context, certificateID string) error

	// MachineID reports the local machine identity.
	MachineID(ctx context.Context) (string, error)

	// FetchToken issues a trust token for the given remote host.
	FetchToken(ctx context.Context, host string) (*Token, error)
}

// RemoteAPI is the contract toward a trusted remote device's management API,
// reached over HTTPS with a signed-token query parameter and certificate
// validation disabled.
type RemoteAPI interface {
	// Echo calls the remote liveness endpoint and returns the reported
	// stage.
	Echo(ctx context.Context, host string, port int, token *Token) (string, error)

	// QueryCertificates lists the device certificates installed on the
	// remote device.
	QueryCertificates(ctx context.Context, host string, port int, token *Token) ([]Certificate, error)

	// DeleteCertificate removes one certificate from the remote device.
	DeleteCertificate(ctx context.Context, host string, port int, token *Token, certificateID string) error

	// DeleteUser removes a management user from the remote device.
	DeleteUser(ctx context.Context, host string, port int, token *Token, username string) error
}
