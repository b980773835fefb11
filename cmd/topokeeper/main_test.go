package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"topokeeper/internal/config"
	"topokeeper/internal/liveness"
	"topokeeper/internal/loader"
	"topokeeper/internal/repository/sqlite"
	"topokeeper/internal/service"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "topokeeper dev")
}

func TestTopologyCommandPrintsDefaultTriangle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvConfigPath, filepath.Join(dir, "missing.yaml"))
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)

	var out bytes.Buffer
	cmd := newTopologyCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	topo, err := loader.ParseYAML(out.Bytes())
	require.NoError(t, err)
	require.Len(t, topo.Switches, 3)
	require.Len(t, topo.Cables, 3)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topokeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lldp:\n  polling_time: 7\n"), 0o644))

	cfgFile = path
	defer func() { cfgFile = "" }()

	cfg, used, err := loadConfig(config.NewViper())
	require.NoError(t, err)
	require.Equal(t, path, used)
	require.Equal(t, 7, cfg.LLDP.PollingTime)
	require.Equal(t, config.DefaultDeadMultiplier, cfg.LLDP.DeadMultiplier)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topokeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mongo\n"), 0o644))

	cfgFile = path
	defer func() { cfgFile = "" }()

	_, _, err := loadConfig(config.NewViper())
	require.Error(t, err)
}

func TestReloadSettingsAppliesPollingTime(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "reload.db"))
	require.NoError(t, err)
	defer store.Close()

	bus := service.NewEventBus()
	topo := service.NewTopologyService(store, bus)
	det := liveness.New(topo, liveness.Config{PollingTime: 3 * time.Second}, nil)
	lldp := service.NewLLDPService(topo, store, det, bus)

	path := filepath.Join(t.TempDir(), "topokeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lldp:\n  polling_time: 5\n"), 0o644))
	reloadSettings(context.Background(), path, lldp)
	require.Equal(t, 5, lldp.PollingTime())
	require.Equal(t, 5*time.Second, det.PollingTime())

	require.NoError(t, os.WriteFile(path, []byte("lldp:\n  polling_time: -1\n"), 0o644))
	reloadSettings(context.Background(), path, lldp)
	require.Equal(t, 5, lldp.PollingTime())
}
