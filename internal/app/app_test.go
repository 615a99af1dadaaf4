package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nfrund/pairchat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	env := map[string]string{
		"SQLITE_PATH": filepath.Join(t.TempDir(), "app.db"),
		"AUTH_MODE":   "header",
		"LOG_LEVEL":   "error",
	}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.Parse(env)
	require.NoError(t, err)
	return cfg
}

func TestApp_BuildsServer(t *testing.T) {
	a := New(testConfig(t, nil))

	srv, err := a.Server()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestApp_MirroredBroker(t *testing.T) {
	a := New(testConfig(t, map[string]string{"BROKER_MIRROR": "true"}))

	_, err := a.Server()
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))
}

func TestApp_StoreOnly(t *testing.T) {
	a := New(testConfig(t, nil))

	st, err := a.Store()
	require.NoError(t, err)

	u, err := st.CreateUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	require.NoError(t, a.Shutdown(context.Background()))
}
