package main

import (
	"github.com/spf13/cobra"

	"topokeeper/internal/config"
	"topokeeper/internal/fabric"
	"topokeeper/internal/loader"
)

func newTopologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Print the fabric topology the controller would attach to",
		Long: `Print the fabric topology as YAML.

The topology comes from fabric.topology_file when set, otherwise the
built-in three-switch triangle is used. The output can be edited and
fed back through fabric.topology_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(flagV)
			if err != nil {
				return err
			}
			topo, err := loadFabricTopology(cfg)
			if err != nil {
				return err
			}
			data, err := loader.ExportYAML(topo)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// loadFabricTopology returns the configured topology or the default triangle
func loadFabricTopology(cfg *config.Config) (*fabric.Topology, error) {
	if cfg.Fabric.TopologyFile == "" {
		return fabric.DefaultTopology(), nil
	}
	return loader.LoadYAML(cfg.Fabric.TopologyFile)
}
