package reconciler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/metrics"
	"github.com/trustfabric/device-trust-gateway/trust"
)

const defaultTargetPort = 443

// serviceAccountPrefix is the name prefix of service accounts the gateway
// injects over SSH when a declaration supplies an SSH key instead of a
// passphrase.
const serviceAccountPrefix = "trustgw-"

// ServiceAccountProvisioner installs and removes gateway service accounts on
// a target device over SSH. Implemented by sshutil.Provisioner.
type ServiceAccountProvisioner interface {
	RemoveServiceAccount(ctx context.Context, host, sshKeyName, adminUser, account string) error
	CreateServiceAccount(ctx context.Context, host, sshKeyName, adminUser, account, password string) error
}

// Reconciler implements declarative add/remove of trusted devices against
// the local management API.
type Reconciler struct {
	local       trust.LocalAPI
	remote      trust.RemoteAPI
	dir         *directory.Directory
	provisioner ServiceAccountProvisioner

	// cleanup queues hosts whose injected service account should be pruned
	// by the background cleanup task.
	cleanup *trust.HostSet

	// servicePassword is generated once per process and reused for every
	// injected service account.
	pwMu            sync.Mutex
	servicePassword string

	log *slog.Logger
}

// New creates a Reconciler. provisioner may be nil, in which case SSH-keyed
// declarations are rejected.
func New(local trust.LocalAPI, remote trust.RemoteAPI, dir *directory.Directory, provisioner ServiceAccountProvisioner, cleanup *trust.HostSet, log *slog.Logger) *Reconciler {
	return &Reconciler{
		local:       local,
		remote:      remote,
		dir:         dir,
		provisioner: provisioner,
		cleanup:     cleanup,
		log:         log,
	}
}

// Declare reconciles the set of trusted devices toward the desired
// declaration: devices not declared are removed, declared devices not yet
// trusted are added, and declared devices that are already registering or
// active are left untouched. All deletions complete before any creation
// starts, so a declaration can never transiently overfill a device group.
// The resulting device set is returned.
func (r *Reconciler) Declare(ctx context.Context, desired []trust.Device) ([]trust.Device, error) {
	for i := range desired {
		if desired[i].TargetPort == 0 {
			desired[i].TargetPort = defaultTargetPort
		}
	}

	existing, err := r.dir.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	existingByKey := make(map[string]trust.Device, len(existing))
	for _, dev := range existing {
		existingByKey[dev.Key()] = dev
	}

	// Partition: satisfied declarations are no-ops, everything else must
	// carry credentials. Validation happens before any remote mutation.
	satisfied := make(map[string]bool)
	for _, dev := range desired {
		current, exists := existingByKey[dev.Key()]
		if exists && (current.State == trust.StateActive || current.State.InProgress()) {
			satisfied[dev.Key()] = true
			continue
		}
		if !dev.HasCredentials() {
			return nil, &trust.RequestError{StatusCode: 400, Err: trust.ErrMissingCredentials}
		}
		if dev.TargetSSHKey != "" && dev.TargetPassphrase == "" && r.provisioner == nil {
			return nil, &trust.RequestError{StatusCode: 400, Err: fmt.Errorf("declared device requires SSH provisioning but no key support is configured")}
		}
	}

	desiredByKey := make(map[string]bool, len(desired))
	for _, dev := range desired {
		desiredByKey[dev.Key()] = true
	}

	var toDelete []trust.Device
	for _, dev := range existing {
		if desiredByKey[dev.Key()] && satisfied[dev.Key()] {
			continue
		}
		toDelete = append(toDelete, dev)
	}
	var toCreate []trust.Device
	for _, dev := range desired {
		if satisfied[dev.Key()] {
			continue
		}
		toCreate = append(toCreate, dev)
	}

	// Phase barrier: every delete joins before the first create starts.
	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range toDelete {
		dev := dev
		g.Go(func() error {
			return r.DeleteDevice(gctx, dev)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, dev := range toCreate {
		dev := dev
		g.Go(func() error {
			return r.AddDevice(gctx, dev)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return r.dir.ListDevices(ctx)
}

// AddTrusts appends the given devices to the current trust set and
// reconciles, leaving existing trusts in place.
func (r *Reconciler) AddTrusts(ctx context.Context, devices []trust.Device) ([]trust.Device, error) {
	current, err := r.dir.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	return r.Declare(ctx, append(current, devices...))
}

// AddDevice establishes a trust to a single device: a group with spare
// capacity is allocated, then the device resource is created with the
// declared credentials. Declarations carrying an SSH key instead of a
// passphrase get a freshly injected service account first, and the host is
// queued for credential cleanup once it registers.
func (r *Reconciler) AddDevice(ctx context.Context, dev trust.Device) error {
	group, err := r.allocateGroup(ctx)
	if err != nil {
		return err
	}

	username, passphrase := dev.TargetUsername, dev.TargetPassphrase
	if dev.TargetSSHKey != "" && passphrase == "" {
		username, passphrase, err = r.injectServiceAccount(ctx, dev)
		if err != nil {
			return err
		}
	}

	r.log.Info("creating device trust", "group", group, "host", dev.TargetHost, "port", dev.TargetPort)
	if err := r.local.CreateDevice(ctx, group, dev.TargetHost, dev.TargetPort, username, passphrase); err != nil {
		return err
	}
	metrics.DevicesCreated.Inc()
	if dev.TargetSSHKey != "" && dev.TargetPassphrase == "" {
		r.cleanup.Add(dev.TargetHost)
	}
	return nil
}

// injectServiceAccount provisions a gateway service account on the target
// over SSH and returns its credentials for the management-API device
// creation. Any stale account from an earlier attempt is removed first.
func (r *Reconciler) injectServiceAccount(ctx context.Context, dev trust.Device) (string, string, error) {
	account, err := r.ServiceAccountName(ctx)
	if err != nil {
		return "", "", err
	}
	password, err := r.serviceAccountPassword()
	if err != nil {
		return "", "", err
	}

	if err := r.provisioner.RemoveServiceAccount(ctx, dev.TargetHost, dev.TargetSSHKey, dev.TargetUsername, account); err != nil {
		// A missing stale account is the common case.
		r.log.Debug("stale service account removal failed", "host", dev.TargetHost, "err", err)
	}
	if err := r.provisioner.CreateServiceAccount(ctx, dev.TargetHost, dev.TargetSSHKey, dev.TargetUsername, account, password); err != nil {
		return "", "", fmt.Errorf("could not provision service account on %s: %w", dev.TargetHost, err)
	}
	return account, password, nil
}

// ServiceAccountName derives the injected account name from the local
// machine identity suffix, so accounts from different gateways never
// collide.
func (r *Reconciler) ServiceAccountName(ctx context.Context) (string, error) {
	machineID, err := r.dir.MachineID(ctx)
	if err != nil {
		return "", err
	}
	suffix := machineID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	return serviceAccountPrefix + suffix, nil
}

// serviceAccountPassword returns the process-wide random service account
// password, generating it on first use.
func (r *Reconciler) serviceAccountPassword() (string, error) {
	r.pwMu.Lock()
	defer r.pwMu.Unlock()
	if r.servicePassword != "" {
		return r.servicePassword, nil
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	r.servicePassword = hex.EncodeToString(raw)
	return r.servicePassword, nil
}

// DeleteDevice removes a device trust. Certificate cleanup on both sides is
// best-effort: a missing certificate never blocks removing the device
// record. Deleting the device resource itself is not best-effort; its
// failure propagates.
func (r *Reconciler) DeleteDevice(ctx context.Context, dev trust.Device) error {
	r.log.Info("deleting device trust", "targetUUID", dev.TargetUUID, "host", dev.TargetHost)
	r.dir.DropTarget(dev.TargetUUID)

	group, err := r.findOwningGroup(ctx, dev.TargetUUID)
	if err != nil {
		return err
	}

	if err := r.deleteLocalCertificateOnRemote(ctx, dev); err != nil {
		r.log.Debug("could not remove local certificate from device", "targetUUID", dev.TargetUUID, "err", err)
	}
	if err := r.deleteCertificateForDevice(ctx, dev); err != nil {
		r.log.Debug("could not remove device certificate from gateway", "targetUUID", dev.TargetUUID, "err", err)
	}

	if err := r.local.DeleteDevice(ctx, group, dev.TargetUUID); err != nil {
		return err
	}
	r.dir.FlushTokenCache(dev.TargetHost)
	metrics.DevicesDeleted.Inc()
	return nil
}

// DeleteByTarget deletes the trust matching a device UUID or host.
func (r *Reconciler) DeleteByTarget(ctx context.Context, target string) error {
	dev, err := r.dir.GetDevice(ctx, target)
	if err != nil {
		return err
	}
	return r.DeleteDevice(ctx, *dev)
}

// DeleteByHostPort deletes the trust matching host and port.
func (r *Reconciler) DeleteByHostPort(ctx context.Context, host string, port int) error {
	devices, err := r.dir.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, dev := range devices {
		if dev.TargetHost == host && dev.TargetPort == port {
			return r.DeleteDevice(ctx, dev)
		}
	}
	return trust.ErrDeviceNotFound
}

// deleteLocalCertificateOnRemote removes this gateway's certificate from the
// remote device's certificate store.
func (r *Reconciler) deleteLocalCertificateOnRemote(ctx context.Context, dev trust.Device) error {
	machineID, err := r.dir.MachineID(ctx)
	if err != nil {
		return err
	}
	token, err := r.dir.GetToken(ctx, dev.TargetHost)
	if err != nil {
		return err
	}
	certs, err := r.remote.QueryCertificates(ctx, dev.TargetHost, dev.TargetPort, token)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if cert.MachineID == machineID {
			return r.remote.DeleteCertificate(ctx, dev.TargetHost, dev.TargetPort, token, cert.CertificateID)
		}
	}
	return fmt.Errorf("local certificate not found on device %s", dev.TargetUUID)
}

// deleteCertificateForDevice removes the device's certificate from the
// gateway's local certificate store.
func (r *Reconciler) deleteCertificateForDevice(ctx context.Context, dev trust.Device) error {
	certs, err := r.local.QueryCertificates(ctx)
	if err != nil {
		return err
	}
	for _, cert := range certs {
		if cert.MachineID == dev.TargetUUID {
			return r.local.DeleteCertificate(ctx, cert.CertificateID)
		}
	}
	return fmt.Errorf("no certificate found for device %s", dev.TargetUUID)
}
