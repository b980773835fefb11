package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"topokeeper/internal/domain"
	"topokeeper/internal/fabric"
)

const sample = `
version: "1"
description: two switches, one cable
switches:
  "00:00:00:00:00:00:00:01":
    local: true
    ports:
      - number: 1
        name: s1-eth1
        connected_to: "00:00:00:00:00:00:00:02:1"
      - number: 2
        name: s1-eth2
  "00:00:00:00:00:00:00:02":
    ports:
      - number: 1
        name: s2-eth1
        connected_to: "00:00:00:00:00:00:00:01:1"
      - number: 2
links:
  - a: "00:00:00:00:00:00:00:01:2"
    b: "00:00:00:00:00:00:00:02:2"
`

func TestParseYAML(t *testing.T) {
	topo, err := ParseYAML([]byte(sample))
	require.NoError(t, err)

	require.Equal(t, []string{"00:00:00:00:00:00:00:01", "00:00:00:00:00:00:00:02"}, topo.SwitchIDs())
	require.Len(t, topo.Switches[0].Ports, 3, "local port appended")
	require.Equal(t, fabric.LocalPort, topo.Switches[0].Ports[2].Number)
	require.Len(t, topo.Cables, 2, "both sides of connected_to collapse into one cable")
}

func TestParseYAMLInvalid(t *testing.T) {
	t.Run("syntax", func(t *testing.T) {
		_, err := ParseYAML([]byte("switches: [unclosed"))
		require.Error(t, err)
	})

	t.Run("dangling cable", func(t *testing.T) {
		_, err := ParseYAML([]byte(`
switches:
  "00:00:00:00:00:00:00:01":
    ports:
      - number: 1
        connected_to: "00:00:00:00:00:00:00:09:1"
`))
		require.ErrorIs(t, err, domain.ErrValidationFailed)
	})
}

func TestLoadAndExportRoundTrip(t *testing.T) {
	data, err := ExportYAML(fabric.DefaultTopology())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "fabric.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	topo, err := LoadYAML(path)
	require.NoError(t, err)
	require.Len(t, topo.Switches, 3)
	require.Len(t, topo.Cables, 3)

	total := 0
	for _, sw := range topo.Switches {
		total += len(sw.Ports)
	}
	require.Equal(t, 13, total)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
