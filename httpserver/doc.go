// Package httpserver exposes the gateway's REST API: trusted device CRUD and
// declarations, trust token issuance, the signing proxy, SSH identity
// management and health endpoints.
package httpserver
