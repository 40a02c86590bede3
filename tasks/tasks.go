package tasks

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/metrics"
	"github.com/trustfabric/device-trust-gateway/trust"
)

// DefaultInterval is the period of both background tasks.
const DefaultInterval = 120 * time.Second

// AccountNamer yields the name of the gateway's injected service account.
// Implemented by reconciler.Reconciler.
type AccountNamer interface {
	ServiceAccountName(ctx context.Context) (string, error)
}

// Runner drives the two periodic background tasks: the device monitor, which
// maintains the down-device list from liveness probes, and the credential
// cleanup, which removes injected service accounts from devices once their
// registration completes. Cycle failures are logged and retried on the next
// tick, never fatal.
type Runner struct {
	dir     *directory.Directory
	local   trust.LocalAPI
	remote  trust.RemoteAPI
	cleanup *trust.HostSet
	names   AccountNamer

	interval time.Duration
	log      *slog.Logger
}

// NewRunner creates a Runner. cleanup is the host queue shared with the
// reconciler; interval <= 0 selects DefaultInterval.
func NewRunner(dir *directory.Directory, local trust.LocalAPI, remote trust.RemoteAPI, cleanup *trust.HostSet, names AccountNamer, interval time.Duration, log *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		dir:      dir,
		local:    local,
		remote:   remote,
		cleanup:  cleanup,
		names:    names,
		interval: interval,
		log:      log,
	}
}

// Run executes both tasks on independent tickers until ctx is cancelled.
// Each task runs one immediate cycle at startup.
func (r *Runner) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.loop(gctx, "monitor", r.monitorCycle)
		return nil
	})
	g.Go(func() error {
		r.loop(gctx, "cleanup", r.cleanupCycle)
		return nil
	})
	_ = g.Wait()
}

func (r *Runner) loop(ctx context.Context, name string, cycle func(context.Context)) {
	cycle(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("background task stopped", "task", name)
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

// monitorCycle probes every trusted device's liveness endpoint and updates
// the down-device list. Probes bypass the token cache and the down-device
// gate, so a recovered host clears itself within one cycle.
func (r *Runner) monitorCycle(ctx context.Context) {
	devices, err := r.dir.ListDevices(ctx)
	if err != nil {
		r.log.Error("monitor cycle could not list devices", "err", err)
		return
	}

	down := r.dir.DownSet()
	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			if r.probe(gctx, dev) {
				if down.Contains(dev.TargetHost) {
					r.log.Info("device recovered", "host", dev.TargetHost, "targetUUID", dev.TargetUUID)
				}
				down.Remove(dev.TargetHost)
			} else {
				if !down.Contains(dev.TargetHost) {
					r.log.Warn("device marked down", "host", dev.TargetHost, "targetUUID", dev.TargetUUID)
				}
				down.Add(dev.TargetHost)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.MonitorCycles.Inc()
	metrics.DevicesDown.Set(float64(down.Len()))
}

// probe reports whether the device answers its echo endpoint in the started
// stage.
func (r *Runner) probe(ctx context.Context, dev trust.Device) bool {
	token, err := r.local.FetchToken(ctx, dev.TargetHost)
	if err != nil {
		r.log.Debug("probe token fetch failed", "host", dev.TargetHost, "err", err)
		return false
	}
	stage, err := r.remote.Echo(ctx, dev.TargetHost, dev.TargetPort, token)
	if err != nil {
		r.log.Debug("probe echo failed", "host", dev.TargetHost, "err", err)
		return false
	}
	return stage == trust.EchoStageStarted
}

// cleanupCycle prunes injected service accounts from queued hosts. Hosts
// whose device is still registering stay queued; hosts whose device is gone
// are dropped; a failed removal is retried on the next cycle.
func (r *Runner) cleanupCycle(ctx context.Context) {
	hosts := r.cleanup.Hosts()
	if len(hosts) == 0 {
		return
	}

	devices, err := r.dir.ListDevices(ctx)
	if err != nil {
		r.log.Error("cleanup cycle could not list devices", "err", err)
		return
	}
	byHost := make(map[string]trust.Device, len(devices))
	for _, dev := range devices {
		byHost[dev.TargetHost] = dev
	}

	account, err := r.names.ServiceAccountName(ctx)
	if err != nil {
		r.log.Error("cleanup cycle could not derive service account name", "err", err)
		return
	}

	for _, host := range hosts {
		dev, ok := byHost[host]
		if !ok {
			// trust was removed before the account could be pruned
			r.cleanup.Remove(host)
			continue
		}
		if !dev.Available {
			continue
		}
		if err := r.removeAccount(ctx, dev, account); err != nil {
			r.log.Debug("service account cleanup failed, will retry", "host", host, "err", err)
			continue
		}
		r.log.Info("removed injected service account", "host", host, "account", account)
		r.cleanup.Remove(host)
	}
}

func (r *Runner) removeAccount(ctx context.Context, dev trust.Device, account string) error {
	token, err := r.dir.GetToken(ctx, dev.TargetHost)
	if err != nil {
		return err
	}
	return r.remote.DeleteUser(ctx, dev.TargetHost, dev.TargetPort, token, account)
}
