package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/livez", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDrainUndrain(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/drain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"draining"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodGet, "/drain", "")
	require.JSONEq(t, `{"status":"already draining"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/undrain", "")
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}
