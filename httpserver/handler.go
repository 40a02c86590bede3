package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/trustfabric/device-trust-gateway/directory"
	"github.com/trustfabric/device-trust-gateway/proxy"
	"github.com/trustfabric/device-trust-gateway/reconciler"
	"github.com/trustfabric/device-trust-gateway/sshutil"
	"github.com/trustfabric/device-trust-gateway/trust"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes the trust API requests: device listings, declarations,
// token issuance and SSH identity management. The signing proxy handles its
// own request forwarding; everything else is delegated to the directory and
// the reconciler.
type Handler struct {
	dir  *directory.Directory
	rec  *reconciler.Reconciler
	prox *proxy.SigningProxy
	keys *sshutil.Store
	log  *slog.Logger
}

// NewHandler creates a new HTTP request handler with the specified
// dependencies.
func NewHandler(dir *directory.Directory, rec *reconciler.Reconciler, prox *proxy.SigningProxy, keys *sshutil.Store, log *slog.Logger) *Handler {
	return &Handler{
		dir:  dir,
		rec:  rec,
		prox: prox,
		keys: keys,
		log:  log,
	}
}

// deviceList is the envelope of every device-collection response.
type deviceList struct {
	Devices []trust.Device `json:"devices"`
}

// HandleListDevices lists all trusted devices, or the single device matching
// the targetUUID or targetHost query filter.
//
// URL format: GET /TrustedDevices?targetUUID=&targetHost=
func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("targetUUID")
	if filter == "" {
		filter = r.URL.Query().Get("targetHost")
	}
	if filter != "" {
		dev, err := h.dir.GetDevice(r.Context(), filter)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, deviceList{Devices: []trust.Device{*dev}})
		return
	}

	devices, err := h.dir.ListDevices(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deviceList{Devices: devices})
}

// HandleGetDevice returns one trusted device by UUID.
//
// URL format: GET /TrustedDevices/{targetUUID}
func (h *Handler) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := h.dir.GetDevice(r.Context(), chi.URLParam(r, "targetUUID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deviceList{Devices: []trust.Device{*dev}})
}

// HandleDeclare reconciles the trusted device set toward the declared list:
// devices absent from the declaration are removed, declared devices are
// added. Registration proceeds asynchronously, hence 202.
//
// URL format: POST /TrustedDevices
// Request body: {"devices": [{"targetHost": ..., "targetPort": ...,
// "targetUsername": ..., "targetPassphrase": ...}, ...]}
func (h *Handler) HandleDeclare(w http.ResponseWriter, r *http.Request) {
	desired, err := h.readDeclaration(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	devices, err := h.rec.Declare(r.Context(), desired)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, deviceList{Devices: devices})
}

// HandleAddTrusts adds the declared devices to the trust set without
// touching existing trusts.
//
// URL format: PUT /TrustedDevices
func (h *Handler) HandleAddTrusts(w http.ResponseWriter, r *http.Request) {
	desired, err := h.readDeclaration(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	devices, err := h.rec.AddTrusts(r.Context(), desired)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, deviceList{Devices: devices})
}

func (h *Handler) readDeclaration(r *http.Request) ([]trust.Device, error) {
	var body deviceList
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize)).Decode(&body); err != nil {
		return nil, &trust.RequestError{StatusCode: 400, Err: trust.ErrMissingDeclaration}
	}
	if body.Devices == nil {
		return nil, &trust.RequestError{StatusCode: 400, Err: trust.ErrMissingDeclaration}
	}
	return body.Devices, nil
}

// HandleDeleteDevice removes the trust for one device by UUID or host.
//
// URL format: DELETE /TrustedDevices/{targetUUID}
func (h *Handler) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.rec.DeleteByTarget(r.Context(), chi.URLParam(r, "targetUUID")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{})
}

// HandleDeleteDeviceByHostPort removes the trust matching the targetHost and
// targetPort query parameters.
//
// URL format: DELETE /TrustedDevices?targetHost=&targetPort=
func (h *Handler) HandleDeleteDeviceByHostPort(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("targetHost")
	portStr := r.URL.Query().Get("targetPort")
	if host == "" || portStr == "" {
		h.writeError(w, &trust.RequestError{StatusCode: 400, Err: errors.New("targetHost and targetPort are required")})
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		h.writeError(w, &trust.RequestError{StatusCode: 400, Err: errors.New("targetPort must be numeric")})
		return
	}
	if err := h.rec.DeleteByHostPort(r.Context(), host, port); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{})
}

// HandleGetToken issues a trust token for the device with the given UUID.
// The response is augmented with the device coordinates so callers can reach
// the device directly.
//
// URL format: GET /TrustedProxy/token/{targetUUID}
func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	targetUUID := chi.URLParam(r, "targetUUID")
	target, err := h.dir.ResolveTarget(r.Context(), targetUUID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondToken(w, r, targetUUID, target.TargetHost, target.TargetPort)
}

// HandleGetTokenByHost issues a trust token for the device with the given
// host address.
//
// URL format: GET /TrustedProxy/token?targetHost=
func (h *Handler) HandleGetTokenByHost(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("targetHost")
	if host == "" {
		h.writeError(w, &trust.RequestError{StatusCode: 400, Err: errors.New("targetHost is required")})
		return
	}
	dev, err := h.dir.GetDevice(r.Context(), host)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondToken(w, r, dev.TargetUUID, dev.TargetHost, dev.TargetPort)
}

func (h *Handler) respondToken(w http.ResponseWriter, r *http.Request, targetUUID, host string, port int) {
	token, err := h.dir.GetToken(r.Context(), host)
	if err != nil {
		h.writeError(w, err)
		return
	}
	token.TargetUUID = targetUUID
	token.TargetHost = host
	token.TargetPort = port
	h.writeJSON(w, http.StatusOK, token)
}

// HandleFlushAllTokens empties the token and resolver caches.
//
// URL format: DELETE /TrustedProxy/token
func (h *Handler) HandleFlushAllTokens(w http.ResponseWriter, r *http.Request) {
	h.dir.FlushAllCaches()
	h.writeJSON(w, http.StatusOK, map[string]string{})
}

// HandleFlushToken evicts the cached token of the device with the given
// UUID, together with every resolver entry on the same host.
//
// URL format: DELETE /TrustedProxy/token/{targetUUID}
func (h *Handler) HandleFlushToken(w http.ResponseWriter, r *http.Request) {
	target, err := h.dir.ResolveTarget(r.Context(), chi.URLParam(r, "targetUUID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.dir.FlushTokenCache(target.TargetHost)
	h.writeJSON(w, http.StatusOK, map[string]string{})
}

// HandleProxy forwards the request to the device named in the URL, signing
// the forwarded path with a trust token.
//
// URL format: ANY /TrustedProxy/{targetUUID}/*
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	h.prox.Proxy(w, r, chi.URLParam(r, "targetUUID"), path)
}

// HandleListSSHKeys lists the stored SSH identity files, optionally filtered
// by the sshKeyName query parameter.
//
// URL format: GET /SshCredentials?sshKeyName=
func (h *Handler) HandleListSSHKeys(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("sshKeyName"); name != "" {
		key, err := h.keys.Get(name)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string][]string{"keys": {key}})
		return
	}
	names, err := h.keys.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"keys": names})
}

// HandleCreateSSHKey stores a new SSH identity file.
//
// URL format: POST /SshCredentials
// Request body: {"key": {"name": ..., "privateKey": ...}}
func (h *Handler) HandleCreateSSHKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key struct {
			Name       string `json:"name"`
			PrivateKey string `json:"privateKey"`
		} `json:"key"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize)).Decode(&body); err != nil || body.Key.Name == "" || body.Key.PrivateKey == "" {
		h.writeError(w, &trust.RequestError{StatusCode: 400, Err: errors.New("SSH key definition requires name and private key")})
		return
	}
	if err := h.keys.Create(body.Key.Name, []byte(body.Key.PrivateKey)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{})
}

// HandleDeleteSSHKey removes a stored SSH identity file.
//
// URL format: DELETE /SshCredentials/{sshKeyName}
func (h *Handler) HandleDeleteSSHKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(chi.URLParam(r, "sshKeyName")); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("could not encode response", "err", err)
	}
}

// writeError maps a gateway error to its HTTP status. Internal failures are
// logged with their detail but answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := trust.StatusCodeOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
		message = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
