package directory

import (
	"context"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// ResolveTarget maps a device UUID to its connection coordinates. The target
// cache is checked first; on miss, a full directory lookup repopulates the
// cache for every device observed, not just the requested one. An unknown
// UUID fails with trust.ErrDeviceNotFound.
func (d *Directory) ResolveTarget(ctx context.Context, targetUUID string) (*trust.Target, error) {
	now := d.now()

	d.targetMu.Lock()
	entry, ok := d.targetCache[targetUUID]
	if ok && now.Sub(entry.cachedAt) < trust.CacheTimeout {
		target := entry.target
		d.targetMu.Unlock()
		d.log.Debug("target resolved from cache", "targetUUID", targetUUID)
		return &target, nil
	}
	d.targetMu.Unlock()

	device, err := d.GetDevice(ctx, targetUUID)
	if err != nil {
		return nil, err
	}
	return &trust.Target{TargetHost: device.TargetHost, TargetPort: device.TargetPort}, nil
}

// cacheTarget stores a device's coordinates in the target cache.
func (d *Directory) cacheTarget(dev trust.Device) {
	d.targetMu.Lock()
	d.targetCache[dev.TargetUUID] = targetEntry{
		target:   trust.Target{TargetHost: dev.TargetHost, TargetPort: dev.TargetPort},
		cachedAt: d.now(),
	}
	d.targetMu.Unlock()
}

// DropTarget removes the resolver cache entry for a UUID. The reconciler
// calls this ahead of device deletion.
func (d *Directory) DropTarget(targetUUID string) {
	d.targetMu.Lock()
	delete(d.targetCache, targetUUID)
	d.targetMu.Unlock()
}
