// Package proxy implements the signing reverse proxy that fronts trusted
// devices. Callers address a device by UUID; the proxy resolves its network
// location through the directory, appends a trust token to the request path,
// and streams the exchange over TLS.
package proxy
