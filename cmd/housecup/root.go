package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/housecup/points-engine/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "housecup",
	Short: "House Cup points engine",
	Long: `housecup keeps the House Cup ledger: teachers award points, students spend
them in the shop, and house and student leaderboards follow every committed
change.

Configuration is read from built-in defaults, then the TOML file given by
--config or HOUSECUP_CONFIG, then HOUSECUP_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (default $HOUSECUP_CONFIG)")
}

// loadConfig applies the --config flag on top of the usual lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv(config.FileEnv, configPath); err != nil {
			return nil, err
		}
	}
	return config.Load()
}
