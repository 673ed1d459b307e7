package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8787", cfg.Server.Listen)
	require.Equal(t, "https://generativelanguage.googleapis.com/v1beta", cfg.Upstream.BaseURL)
	require.Equal(t, "gemini-2.0-flash", cfg.Upstream.Model)
	require.Equal(t, 30000, cfg.Upstream.TimeoutMs)
	require.ElementsMatch(t,
		[]string{ShapePrompt, ShapeDeviceCompare, ShapeContents},
		cfg.Relay.AcceptedShapes,
	)
	require.EqualValues(t, 1<<20, cfg.Relay.MaxBodyBytes)
	require.False(t, cfg.Relay.AllowCrossOrigin)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9000"
upstream:
  model: gemini-2.5-pro
  timeout_ms: 5000
relay:
  accepted_shapes: [prompt]
  allow_cross_origin: true
  expose_upstream_error_details: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Listen)
	require.Equal(t, "gemini-2.5-pro", cfg.Upstream.Model)
	require.Equal(t, 5000, cfg.Upstream.TimeoutMs)
	require.True(t, cfg.Relay.AllowCrossOrigin)
	require.True(t, cfg.Relay.ExposeUpstreamErrorDetails)
	require.True(t, cfg.ShapeAccepted(ShapePrompt))
	require.False(t, cfg.ShapeAccepted(ShapeContents))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GMR_LISTEN", ":7000")
	t.Setenv("GMR_MODEL", "gemini-env")
	t.Setenv("GMR_ALLOW_CROSS_ORIGIN", "true")
	t.Setenv("GMR_ACCEPTED_SHAPES", "prompt, contents")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Listen)
	require.Equal(t, "gemini-env", cfg.Upstream.Model)
	require.True(t, cfg.Relay.AllowCrossOrigin)
	require.Equal(t, []string{"prompt", "contents"}, cfg.Relay.AcceptedShapes)
}

func TestLoad_RejectsUnknownShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay:
  accepted_shapes: [prompt, telepathy]
`), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "telepathy")
}

func TestLoad_RejectsBadBaseURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gmr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
upstream:
  base_url: "ftp://example.com"
`), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "base_url")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":8787", cfg.Server.Listen)
}
