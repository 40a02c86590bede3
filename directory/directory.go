package directory

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// Directory enumerates trusted devices and owns the gateway's shared mutable
// state: the token cache, the target cache, the down-device set, and the
// machine-identity memo. It is constructed once at process start and passed
// by reference to every component needing it.
type Directory struct {
	local trust.LocalAPI

	// MachineIDFile is an optional identity file read once and cached for
	// the process lifetime; the device-info endpoint is the fallback.
	machineIDFile string

	machineIDMu sync.Mutex
	machineID   string

	tokenMu    sync.Mutex
	tokenCache map[string]tokenEntry

	targetMu    sync.Mutex
	targetCache map[string]targetEntry

	downSet *trust.HostSet

	now func() time.Time
	log *slog.Logger
}

type tokenEntry struct {
	token     trust.Token
	fetchedAt time.Time
}

type targetEntry struct {
	target   trust.Target
	cachedAt time.Time
}

// New creates a Directory backed by the local management API.
func New(local trust.LocalAPI, machineIDFile string, log *slog.Logger) *Directory {
	return &Directory{
		local:         local,
		machineIDFile: machineIDFile,
		tokenCache:    make(map[string]tokenEntry),
		targetCache:   make(map[string]targetEntry),
		downSet:       trust.NewHostSet(),
		now:           time.Now,
		log:           log,
	}
}

// DownSet exposes the down-device list for the monitor task.
func (d *Directory) DownSet() *trust.HostSet {
	return d.downSet
}

// MachineID reports the local gateway's machine identity. The identity file
// wins over the device-info endpoint; either result is cached for the
// process lifetime.
func (d *Directory) MachineID(ctx context.Context) (string, error) {
	d.machineIDMu.Lock()
	defer d.machineIDMu.Unlock()
	if d.machineID != "" {
		return d.machineID, nil
	}

	if d.machineIDFile != "" {
		if raw, err := os.ReadFile(d.machineIDFile); err == nil {
			d.machineID = sanitizeMachineID(string(raw))
			d.log.Debug("retrieved machine identity from file", "file", d.machineIDFile)
			return d.machineID, nil
		}
	}

	id, err := d.local.MachineID(ctx)
	if err != nil {
		return "", err
	}
	d.machineID = id
	d.log.Debug("retrieved machine identity from device-info endpoint")
	return d.machineID, nil
}

// sanitizeMachineID strips everything outside printable ASCII, matching how
// the identity file is written by the platform (trailing newline and all).
func sanitizeMachineID(s string) string {
	return strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return -1
		}
		return r
	}, s)
}

// ListDevices enumerates all trusted devices across the gateway's device
// groups. Group fetches run concurrently; the local machine itself is
// excluded; availability is classified from the registration state and the
// down-device set. Result order is not guaranteed stable.
func (d *Directory) ListDevices(ctx context.Context) ([]trust.Device, error) {
	machineID, err := d.MachineID(ctx)
	if err != nil {
		return nil, err
	}

	groups, err := d.local.QueryDeviceGroups(ctx, trust.DeviceGroupPrefix)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	devices := []trust.Device{}

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			raw, err := d.local.QueryDevices(gctx, group)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, rd := range raw {
				if rd.MachineID == machineID {
					// a device never trusts itself
					continue
				}
				devices = append(devices, d.classify(rd))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return devices, nil
}

// classify derives the availability of a device from its registration state
// and the down-device set.
func (d *Directory) classify(rd trust.RawDevice) trust.Device {
	dev := trust.Device{
		TargetUUID:        rd.MachineID,
		TargetHost:        rd.Address,
		TargetPort:        rd.HTTPSPort,
		State:             rd.State,
		TargetHostname:    rd.Hostname,
		TargetVersion:     rd.Version,
		TargetRESTVersion: rd.RESTFrameworkVersion,
	}
	switch {
	case rd.State.InProgress():
		dev.Available = false
	case rd.State.Failed():
		dev.Available = false
	case d.downSet.Contains(rd.Address):
		dev.Available = false
	default:
		dev.Available = true
	}
	return dev
}

// GetDevice returns the trusted device matching the given UUID or host, or
// trust.ErrDeviceNotFound. Every scanned device repopulates the target
// cache, amortizing future resolutions. When duplicate devices share a host,
// the first match in listing order wins; duplicates are not expected and
// their ordering is undefined.
func (d *Directory) GetDevice(ctx context.Context, target string) (*trust.Device, error) {
	devices, err := d.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	var found *trust.Device
	for i := range devices {
		d.cacheTarget(devices[i])
		if found == nil && (devices[i].TargetUUID == target || devices[i].TargetHost == target) {
			found = &devices[i]
		}
	}
	if found == nil {
		return nil, trust.ErrDeviceNotFound
	}
	return found, nil
}
