// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, time.Second, cfg.Reconnect.Base)
	require.Empty(t, cfg.Drivers)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":7700"
data_dir: /tmp/hubdata
drivers:
  - name: avantis
    prefix: /avantis
    type: mixer
    host: 10.0.0.20
  - name: obs
    prefix: /obs
    type: streaming
    url: ws://10.0.0.30:4455
    password: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7700", cfg.ListenAddr)
	require.Equal(t, "/tmp/hubdata", cfg.DataDir)
	// Untouched fields keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Reconnect.Max)
	require.Len(t, cfg.Drivers, 2)
	require.Equal(t, "mixer", cfg.Drivers[0].Type)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "listne: \":7700\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen: \":7700\"\n")
	t.Setenv("HUB_LISTEN", ":8800")
	t.Setenv("HUB_RECONNECT_BASE", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8800", cfg.ListenAddr)
	require.Equal(t, 250*time.Millisecond, cfg.Reconnect.Base)
}

func TestValidateDuplicatePrefixCaseInsensitive(t *testing.T) {
	cfg := Defaults()
	cfg.Drivers = []DriverConfig{
		{Name: "a", Prefix: "/Lights", Type: "visual"},
		{Name: "b", Prefix: "/lights", Type: "visual"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateDriverRequirements(t *testing.T) {
	cases := []DriverConfig{
		{Name: "", Prefix: "/x", Type: "visual"},
		{Name: "x", Prefix: "no-slash", Type: "visual"},
		{Name: "x", Prefix: "/x", Type: "toaster"},
		{Name: "x", Prefix: "/x", Type: "streaming"},      // missing url
		{Name: "x", Prefix: "/x", Type: "mixer"},          // missing host
		{Name: "x", Prefix: "/x", Type: "visual", Port: -1},
	}
	for i, dc := range cases {
		cfg := Defaults()
		cfg.Drivers = []DriverConfig{dc}
		require.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestValidateBackoff(t *testing.T) {
	cfg := Defaults()
	cfg.Reconnect.Base = 0
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Reconnect.Max = cfg.Reconnect.Base / 2
	require.Error(t, cfg.Validate())
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfig(t, "listen: \":7700\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(cfg, path)
	require.Equal(t, ":7700", h.Get().ListenAddr)

	// Break the file: reload must fail and keep the previous config.
	require.NoError(t, os.WriteFile(path, []byte("listen: \"\"\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	require.Equal(t, ":7700", h.Get().ListenAddr)

	// Fix the file: reload succeeds and listeners observe the new config.
	var seen []string
	h.OnReload(func(c AppConfig) { seen = append(seen, c.ListenAddr) })
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7800\"\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	require.Equal(t, ":7800", h.Get().ListenAddr)
	require.Equal(t, []string{":7800"}, seen)
}
