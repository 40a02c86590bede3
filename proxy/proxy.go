package proxy

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/trustfabric/device-trust-gateway/client"
	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/metrics"
)

// SigningProxy forwards API requests to a trusted device, signing each
// request path with a fresh trust token. Request and response bodies are
// streamed, never buffered whole; the outbound leg runs on the inbound
// request's context, so a disconnecting caller cancels the device call too.
type SigningProxy struct {
	dir       *directory.Directory
	transport http.RoundTripper
	log       *slog.Logger
}

// New creates a SigningProxy resolving devices through dir. Remote devices
// present self-signed certificates, so the shared outbound transport skips
// certificate validation; authorization travels in the signed token.
func New(dir *directory.Directory, log *slog.Logger) *SigningProxy {
	return &SigningProxy{
		dir: dir,
		transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Proxy resolves targetUUID, signs path, and forwards the request. The
// remote status, headers, and body are mirrored to the caller unmodified.
// Unresolvable devices answer 404; every other failure answers 500 with the
// error detail.
func (p *SigningProxy) Proxy(w http.ResponseWriter, r *http.Request, targetUUID, path string) {
	target, err := p.dir.ResolveTarget(r.Context(), targetUUID)
	if err != nil {
		p.log.Error("proxy target device not found", "targetUUID", targetUUID)
		writeProxyError(w, http.StatusNotFound, fmt.Sprintf("target device: %s not found.", targetUUID))
		return
	}

	token, err := p.dir.GetToken(r.Context(), target.TargetHost)
	if err != nil {
		writeProxyError(w, http.StatusInternalServerError, err.Error())
		return
	}

	signedPath := client.SignPath(path, token)
	urlPath, rawQuery, _ := strings.Cut(signedPath, "?")

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = "https"
			req.URL.Host = fmt.Sprintf("%s:%d", target.TargetHost, target.TargetPort)
			req.URL.Path = urlPath
			req.URL.RawQuery = rawQuery
			req.Host = req.URL.Host
		},
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			p.log.Error("proxy request failed", "targetUUID", targetUUID, "path", path, "err", err)
			writeProxyError(w, http.StatusInternalServerError, err.Error())
		},
		ModifyResponse: func(resp *http.Response) error {
			p.log.Debug("proxied request", "targetUUID", targetUUID, "status", resp.StatusCode, "path", path)
			return nil
		},
	}

	metrics.ProxiedRequests.WithLabelValues(r.Method).Inc()
	rp.ServeHTTP(w, r)
}

func writeProxyError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
