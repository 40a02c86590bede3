package sshutil

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/crypto/ssh"
)

// DefaultSSHPort is the port service account provisioning connects to.
const DefaultSSHPort = 22

const (
	dialTimeout  = 10 * time.Second
	dialAttempts = 3
)

// Provisioner installs and removes gateway service accounts on target
// devices over SSH, authenticating with a stored identity file. Devices are
// not expected to have known host keys, so host key checking is disabled;
// the identity file is the trust anchor.
type Provisioner struct {
	store *Store
	port  int
	log   *slog.Logger
}

// NewProvisioner creates a Provisioner reading identities from store.
func NewProvisioner(store *Store, log *slog.Logger) *Provisioner {
	return &Provisioner{store: store, port: DefaultSSHPort, log: log}
}

// CreateServiceAccount creates the named management account with admin role
// and no shell on the target device.
func (p *Provisioner) CreateServiceAccount(ctx context.Context, host, sshKeyName, adminUser, account, password string) error {
	p.log.Info("provisioning service account", "host", host, "account", account)
	return p.run(ctx, host, sshKeyName, adminUser, createAccountCmd(account, password))
}

// RemoveServiceAccount deletes the named management account from the target
// device.
func (p *Provisioner) RemoveServiceAccount(ctx context.Context, host, sshKeyName, adminUser, account string) error {
	return p.run(ctx, host, sshKeyName, adminUser, removeAccountCmd(account))
}

func createAccountCmd(account, password string) string {
	return fmt.Sprintf("tmsh create auth user %s password %s partition-access add { all-partitions { role admin } } shell none", account, password)
}

func removeAccountCmd(account string) string {
	return fmt.Sprintf("tmsh delete auth user %s", account)
}

// run dials the target and executes one command. Dialing is retried a few
// times; devices mid-registration can be slow to accept connections.
func (p *Provisioner) run(ctx context.Context, host, sshKeyName, adminUser, cmd string) error {
	signer, err := p.store.ReadKey(sshKeyName)
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            adminUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	addr := net.JoinHostPort(host, fmt.Sprint(p.port))

	conn, err := retry.DoWithData(
		func() (*ssh.Client, error) {
			return ssh.Dial("tcp", addr, config)
		},
		retry.Context(ctx),
		retry.Attempts(dialAttempts),
		retry.Delay(time.Second),
	)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	if err != nil {
		return fmt.Errorf("remote command failed: %w: %s", err, out)
	}
	p.log.Debug("remote command completed", "host", host)
	return nil
}
