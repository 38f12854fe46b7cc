package pluginserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:0"
	}
	s := New(cfg, testutil.TestLogger(t))
	require.NoError(t, s.Start(testutil.TestContext(t)))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestServesPlugin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPluginFile), []byte("archive"), 0o600))
	s := startServer(t, Config{ResourceDir: dir})

	assert.True(t, s.Healthy(testutil.TestContext(t)))

	resp, err := http.Get(s.URL())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "archive", string(body))
}

func TestCompressesArchive(t *testing.T) {
	dir := t.TempDir()
	archive := bytes.Repeat([]byte("connector-plugin "), 1024)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultPluginFile), archive, 0o600))
	s := startServer(t, Config{ResourceDir: dir})

	req, err := http.NewRequest(http.MethodGet, s.URL(), nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, archive, body)
}

func TestUnhealthyWithoutArchive(t *testing.T) {
	s := startServer(t, Config{ResourceDir: filepath.Join(t.TempDir(), "plugins")})

	assert.DirExists(t, s.config.ResourceDir)
	assert.False(t, s.Healthy(testutil.TestContext(t)))
}

func TestStopAndRestart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "connector.tar"), []byte("x"), 0o600))
	s := startServer(t, Config{ResourceDir: dir, PluginFile: "connector.tar"})
	ctx := testutil.TestContext(t)

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Healthy(ctx))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))

	require.NoError(t, s.Restart(ctx))
	assert.True(t, s.Healthy(ctx))
}

func TestAdvertisedURL(t *testing.T) {
	s := New(Config{ListenAddress: ":8080", AdvertiseAddress: "10.1.2.3:8080"}, nil)
	assert.Equal(t, "http://10.1.2.3:8080/plugin.tar", s.URL())

	s = New(Config{ListenAddress: "0.0.0.0:9000"}, nil)
	assert.Equal(t, "http://0.0.0.0:9000/plugin.tar", s.URL())
}

func TestConfigureRequiresDir(t *testing.T) {
	err := New(Config{}, nil).Configure()
	assert.True(t, errors.IsConfig(err))
}
