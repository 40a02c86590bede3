// Package tasks runs the gateway's periodic background work: device liveness
// monitoring and injected-credential cleanup.
package tasks
