// Package reconciler drives the declarative trust lifecycle: given a
// desired set of devices, it computes the add-set and remove-set against the
// directory's current view and converges the local management API toward the
// declaration.
//
// Reconciliation runs in two strictly ordered phases. All deletions
// (including best-effort certificate cleanup on both the gateway and the
// remote device) complete before the first creation allocates a device
// group, so a declaration can never transiently exceed a group's capacity
// ceiling. Within a phase, devices are processed concurrently.
//
// Device creation can provision a service account on the target over SSH
// when the declaration supplies an installed SSH identity instead of a
// passphrase; such hosts are queued for background credential cleanup once
// registered.
package reconciler
