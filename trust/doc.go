// Package trust defines the domain types, client contracts, and error
// taxonomy shared by the gateway components, without implementation details.
//
// # Core Types
//
//   - Device: the gateway's view of a trusted remote endpoint
//   - DeviceState: the observed remote registration lifecycle
//   - Token: short-lived signing credential for one remote host
//   - HostSet: concurrency-safe host set (down-device list, cleanup queue)
//
// # Contracts
//
//   - LocalAPI: the local management REST API boundary
//   - RemoteAPI: a trusted remote device's management API boundary
//
// # Error Types
//
//   - ErrDeviceNotFound: target UUID or host matches no trusted device
//   - ErrHostUnavailable: host is on the down-device list
//   - ErrMissingCredentials / ErrMissingDeclaration: invalid declarations
//   - RequestError: error with an explicit HTTP status mapping
//   - UpstreamError: non-2xx management API answer, carried verbatim
package trust
