package sshutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// DefaultKeyDir is where SSH identity files live on the gateway.
const DefaultKeyDir = "/sshkeys"

// Store manages the SSH identity files usable in device declarations. Keys
// are plain PEM files on disk, addressed by file name.
type Store struct {
	dir string
}

// NewStore creates a Store over dir; an empty dir selects DefaultKeyDir.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultKeyDir
	}
	return &Store{dir: dir}
}

// List returns the names of all stored identity files.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Get returns the name if the identity file exists, wrapped as a 404 request
// error otherwise.
func (s *Store) Get(name string) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", &trust.RequestError{StatusCode: 404, Err: errors.New("key not found")}
	}
	return name, nil
}

// Create stores a new identity file. The content must parse as a PEM private
// key; an existing name is a conflict.
func (s *Store) Create(name string, pemData []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if _, err := ssh.ParsePrivateKey(pemData); err != nil {
		return &trust.RequestError{StatusCode: 400, Err: errors.New("key is not a valid PEM private key")}
	}
	if _, err := os.Stat(path); err == nil {
		return &trust.RequestError{StatusCode: 409, Err: errors.New("key file exists")}
	}
	return os.WriteFile(path, pemData, 0o600)
}

// Delete removes an identity file, failing with a 404 request error when the
// name is unknown.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return &trust.RequestError{StatusCode: 404, Err: errors.New("key not found")}
	}
	return os.Remove(path)
}

// ReadKey loads and parses the named identity file into an SSH signer.
func (s *Store) ReadKey(name string) (ssh.Signer, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, &trust.RequestError{StatusCode: 404, Err: errors.New("key not found")}
	}
	signer, err := ssh.ParsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("could not parse identity file %s: %w", name, err)
	}
	return signer, nil
}

// path validates the key name and resolves it under the store directory. The
// name must be a bare file name.
func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name != filepath.Base(name) {
		return "", &trust.RequestError{StatusCode: 400, Err: errors.New("invalid sshKeyName")}
	}
	return filepath.Join(s.dir, name), nil
}
