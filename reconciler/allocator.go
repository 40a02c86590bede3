package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// allocateGroup selects a trust device group with spare capacity, creating a
// new one when every existing group is full. Group names follow the
// monotonic scheme <prefix><N>; a new group takes the highest observed index
// plus one. Counting runs concurrently across groups; selection order is the
// listing order.
func (r *Reconciler) allocateGroup(ctx context.Context) (string, error) {
	groups, err := r.local.QueryDeviceGroups(ctx, trust.DeviceGroupPrefix)
	if err != nil {
		return "", err
	}

	if len(groups) == 0 {
		name := trust.DeviceGroupPrefix + "0"
		if err := r.createGroup(ctx, name); err != nil {
			return "", err
		}
		return name, nil
	}

	counts := make([]int, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			devices, err := r.local.QueryDevices(gctx, group)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[i] = len(devices)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	highest := 0
	for i, group := range groups {
		if counts[i] < trust.MaxDevicesPerGroup {
			return group, nil
		}
		if idx, err := strconv.Atoi(strings.TrimPrefix(group, trust.DeviceGroupPrefix)); err == nil && idx > highest {
			highest = idx
		}
	}

	name := fmt.Sprintf("%s%d", trust.DeviceGroupPrefix, highest+1)
	if err := r.createGroup(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

func (r *Reconciler) createGroup(ctx context.Context, name string) error {
	r.log.Debug("creating device group", "group", name)
	return r.local.CreateDeviceGroup(ctx, trust.DeviceGroup{
		GroupName:   name,
		Display:     "Trusted Device Group",
		Description: "Device group to establish trust for control plane request authorization",
	})
}

// findOwningGroup locates the device group containing the given device UUID
// by scanning all trust groups concurrently.
func (r *Reconciler) findOwningGroup(ctx context.Context, targetUUID string) (string, error) {
	groups, err := r.local.QueryDeviceGroups(ctx, trust.DeviceGroupPrefix)
	if err != nil {
		return "", err
	}

	var mu sync.Mutex
	owner := ""
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			devices, err := r.local.QueryDevices(gctx, group)
			if err != nil {
				return err
			}
			for _, dev := range devices {
				if dev.MachineID == targetUUID {
					mu.Lock()
					owner = group
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if owner == "" {
		return "", trust.ErrDeviceNotFound
	}
	return owner, nil
}
