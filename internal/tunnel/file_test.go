package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusvpn/provision/internal/shared/logger"
)

func TestFileTunnel_ActivateDeactivate(t *testing.T) {
	dir := t.TempDir()
	ft := NewFileTunnel(dir, logger.NewDevelopment("tunnel_test"))
	ctx := context.Background()

	cfg := &Config{
		Server:    "https://vpn.example.org",
		ProfileID: "internet",
		LocalID:   "local-1",
		Body:      "remote vpn.example.org 1194\n",
	}
	require.NoError(t, ft.Activate(ctx, cfg))

	path := filepath.Join(dir, "local-1.conf")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Body, string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	require.NoError(t, ft.Deactivate(ctx, "local-1"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deactivating a missing config is not an error.
	require.NoError(t, ft.Deactivate(ctx, "local-1"))
}

func TestFileTunnel_ActivateRequiresLocalID(t *testing.T) {
	ft := NewFileTunnel(t.TempDir(), logger.NewDevelopment("tunnel_test"))
	err := ft.Activate(context.Background(), &Config{Body: "x"})
	assert.Error(t, err)
}

func TestFileTunnel_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tunnels")
	ft := NewFileTunnel(dir, logger.NewDevelopment("tunnel_test"))

	cfg := &Config{LocalID: "local-1", Body: "x"}
	require.NoError(t, ft.Activate(context.Background(), cfg))

	_, err := os.Stat(filepath.Join(dir, "local-1.conf"))
	require.NoError(t, err)
}
