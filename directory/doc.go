// Package directory maintains the gateway's view of its trusted devices and
// the caches shared across components.
//
// Directory enumerates devices from the local management API's device
// groups, excluding the gateway itself and classifying availability from the
// observed registration state and the down-device list. It owns:
//
//   - the token cache: host -> trust token, 5 minute lifetime computed at
//     read time
//   - the target cache: device UUID -> host:port, repopulated as a side
//     effect of every directory scan
//   - the down-device set, fed by the monitor task
//   - the machine-identity memo, read once per process
//
// Flushing is host-keyed: removing a host's token also removes every target
// cache entry resolving to that host.
//
// All state is mutex-guarded; Directory is safe for concurrent use by the
// API handlers, the reconciler, and the background tasks.
package directory
