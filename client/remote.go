package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/trustfabric/device-trust-gateway/trust"
)

const remoteRequestTimeout = 10 * time.Second

// RemoteClient issues token-signed HTTPS calls to a trusted remote device's
// management API. Certificate validation is disabled: devices present
// self-signed certificates in this trust model, and request authorization is
// carried by the signed token instead. RemoteClient implements
// trust.RemoteAPI.
type RemoteClient struct {
	httpClient *http.Client
	log        *slog.Logger
}

// NewRemoteClient creates a client for remote device management APIs.
func NewRemoteClient(log *slog.Logger) *RemoteClient {
	return &RemoteClient{
		httpClient: &http.Client{
			Timeout: remoteRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		log: log,
	}
}

// SignPath appends the token query parameter to path, merging with an
// existing query string when present.
func SignPath(path string, token *trust.Token) string {
	for _, r := range path {
		if r == '?' {
			return path + "&" + token.QueryParam
		}
	}
	return path + "?" + token.QueryParam
}

func (c *RemoteClient) do(ctx context.Context, method, host string, port int, path string, token *trust.Token, respBody any) error {
	url := fmt.Sprintf("https://%s:%d%s", host, port, SignPath(path, token))
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach device %s:%d: %w", host, port, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response from device %s:%d: %w", host, port, err)
	}
	if resp.StatusCode > 399 {
		c.log.Error("remote management API request failed", "method", method, "host", host, "port", port, "path", path, "status", resp.StatusCode, "body", string(raw))
		return &trust.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if respBody != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("could not parse response from device %s:%d: %w", host, port, err)
		}
	}
	return nil
}

// Echo calls the remote liveness endpoint and returns the reported stage.
func (c *RemoteClient) Echo(ctx context.Context, host string, port int, token *trust.Token) (string, error) {
	var echo struct {
		Stage string `json:"stage"`
	}
	if err := c.do(ctx, http.MethodGet, host, port, trust.EchoPath, token, &echo); err != nil {
		return "", err
	}
	return echo.Stage, nil
}

// QueryCertificates lists the device certificates installed on the remote
// device.
func (c *RemoteClient) QueryCertificates(ctx context.Context, host string, port int, token *trust.Token) ([]trust.Certificate, error) {
	var envelope itemsEnvelope[trust.Certificate]
	if err := c.do(ctx, http.MethodGet, host, port, trust.CertificatesPath, token, &envelope); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

// DeleteCertificate removes one certificate from the remote device.
func (c *RemoteClient) DeleteCertificate(ctx context.Context, host string, port int, token *trust.Token, certificateID string) error {
	path := fmt.Sprintf("%s/%s", trust.CertificatesPath, certificateID)
	c.log.Debug("deleting remote certificate", "host", host, "port", port, "path", path)
	return c.do(ctx, http.MethodDelete, host, port, path, token, nil)
}

// DeleteUser removes a management user from the remote device.
func (c *RemoteClient) DeleteUser(ctx context.Context, host string, port int, token *trust.Token, username string) error {
	path := fmt.Sprintf("%s/%s", trust.UsersPath, username)
	c.log.Debug("deleting remote user", "host", host, "port", port, "user", username)
	return c.do(ctx, http.MethodDelete, host, port, path, token, nil)
}
