// topokeeper runs the network controller core: entity store, topology
// manager, hello driver and liveness detector, behind a REST API.
//
// Usage:
//
//	topokeeper serve [--clean] [--enable-all] [--config <file>]
//	topokeeper topology [--config <file>]
//	topokeeper version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"topokeeper/internal/config"
)

var (
	cfgFile string
	flagV   = config.NewViper()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "topokeeper",
	Short:             "Network controller core with hello-based link liveness",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search standard locations)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = flagV.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(
		newServeCmd(),
		newTopologyCmd(),
		newVersionCmd(),
	)
}

// loadConfig reads the config file, applies environment and flag overrides
// and validates the result
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if cfgFile != "" {
		cfg, path, err = config.LoadFromPath(cfgFile)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}
	cfg.ApplyOverrides(v)
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
