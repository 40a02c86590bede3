package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/trustfabric/device-trust-gateway/trust"
)

// DefaultLocalAddr is the fixed local management API endpoint.
const DefaultLocalAddr = "http://localhost:8100"

const localRequestTimeout = 2 * time.Second

// LocalClient issues authenticated HTTP calls to the local management API.
// It implements trust.LocalAPI.
type LocalClient struct {
	// BaseURL is the management API base, DefaultLocalAddr unless overridden
	// for tests.
	BaseURL string

	// Username and Passphrase are the static basic-auth credentials. The
	// management platform ships with user admin and an empty passphrase.
	Username   string
	Passphrase string

	httpClient *http.Client
	log        *slog.Logger
}

// NewLocalClient creates a client for the local management API.
func NewLocalClient(baseURL, username, passphrase string, log *slog.Logger) *LocalClient {
	if baseURL == "" {
		baseURL = DefaultLocalAddr
	}
	return &LocalClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Passphrase: passphrase,
		httpClient: &http.Client{Timeout: localRequestTimeout},
		log:        log,
	}
}

// itemsEnvelope is the collection wrapper the management API uses.
type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

func (c *LocalClient) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("could not encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Username, c.Passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach local management API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read local management API response: %w", err)
	}
	if resp.StatusCode > 399 {
		c.log.Error("local management API request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(raw))
		return &trust.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("could not parse local management API response: %w", err)
		}
	}
	return nil
}

// QueryDeviceGroups lists device-group names starting with prefix.
func (c *LocalClient) QueryDeviceGroups(ctx context.Context, prefix string) ([]string, error) {
	c.log.Debug("querying device groups", "path", trust.DeviceGroupsPath)
	var envelope itemsEnvelope[trust.DeviceGroup]
	if err := c.do(ctx, http.MethodGet, trust.DeviceGroupsPath, nil, &envelope); err != nil {
		return nil, err
	}
	groups := []string{}
	for _, dg := range envelope.Items {
		if strings.HasPrefix(dg.GroupName, prefix) {
			groups = append(groups, dg.GroupName)
		}
	}
	return groups, nil
}

// CreateDeviceGroup creates a device group.
func (c *LocalClient) CreateDeviceGroup(ctx context.Context, group trust.DeviceGroup) error {
	c.log.Debug("creating device group", "group", group.GroupName)
	return c.do(ctx, http.MethodPost, trust.DeviceGroupsPath, group, nil)
}

// QueryDevices lists the devices inside one device group.
func (c *LocalClient) QueryDevices(ctx context.Context, group string) ([]trust.RawDevice, error) {
	path := fmt.Sprintf("%s/%s/devices", trust.DeviceGroupsPath, group)
	c.log.Debug("querying devices", "path", path)
	var envelope itemsEnvelope[trust.RawDevice]
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

// createDeviceRequest is the device-create wire body.
type createDeviceRequest struct {
	UserName  string `json:"userName"`
	Password  string `json:"password"`
	Address   string `json:"address"`
	HTTPSPort int    `json:"httpsPort"`
}

// CreateDevice adds a device to a group, establishing the trust.
func (c *LocalClient) CreateDevice(ctx context.Context, group, host string, port int, username, passphrase string) error {
	path := fmt.Sprintf("%s/%s/devices", trust.DeviceGroupsPath, group)
	c.log.Debug("creating device", "path", path, "host", host, "port", port)
	body := createDeviceRequest{
		UserName:  username,
		Password:  passphrase,
		Address:   host,
		HTTPSPort: port,
	}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// DeleteDevice removes a device resource from its group.
func (c *LocalClient) DeleteDevice(ctx context.Context, group, machineID string) error {
	path := fmt.Sprintf("%s/%s/devices/%s", trust.DeviceGroupsPath, group, machineID)
	c.log.Debug("deleting device", "path", path)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// QueryCertificates lists the local device certificates.
func (c *LocalClient) QueryCertificates(ctx context.Context) ([]trust.Certificate, error) {
	c.log.Debug("querying certificates", "path", trust.CertificatesPath)
	var envelope itemsEnvelope[trust.Certificate]
	if err := c.do(ctx, http.MethodGet, trust.CertificatesPath, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

// DeleteCertificate removes one local device certificate.
func (c *LocalClient) DeleteCertificate(ctx context.Context, certificateID string) error {
	path := fmt.Sprintf("%s/%s", trust.CertificatesPath, certificateID)
	c.log.Debug("deleting certificate", "path", path)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// MachineID reports the local machine identity from the device-info
// endpoint.
func (c *LocalClient) MachineID(ctx context.Context) (string, error) {
	c.log.Debug("querying machine identity", "path", trust.DeviceInfoPath)
	var info struct {
		MachineID string `json:"machineId"`
	}
	if err := c.do(ctx, http.MethodGet, trust.DeviceInfoPath, nil, &info); err != nil {
		return "", err
	}
	if info.MachineID == "" {
		return "", fmt.Errorf("device-info response carries no machineId")
	}
	return info.MachineID, nil
}

// FetchToken issues a trust token for the given remote host.
func (c *LocalClient) FetchToken(ctx context.Context, host string) (*trust.Token, error) {
	c.log.Debug("fetching token", "path", trust.TokenPath, "host", host)
	body := struct {
		Address string `json:"address"`
	}{Address: host}
	var token trust.Token
	if err := c.do(ctx, http.MethodPost, trust.TokenPath, body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}
