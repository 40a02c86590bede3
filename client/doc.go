// Package client implements the HTTP clients toward the two management API
// boundaries of the gateway.
//
// LocalClient talks to the local management API over plain HTTP on a fixed
// local port with static basic-auth credentials and a 2 second timeout.
//
// RemoteClient talks to trusted remote devices over HTTPS with the signed
// trust token carried as a query parameter, a 10 second timeout, and TLS
// certificate validation disabled (devices present self-signed
// certificates).
//
// Network and parse failures are never swallowed at this layer; non-2xx
// answers surface as trust.UpstreamError with the upstream status and body
// carried verbatim.
package client
