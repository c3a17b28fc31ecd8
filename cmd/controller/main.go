package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tqchen/yarn-ec2/internal/config"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "yarn-ec2-controller",
	Short: "Keeps a YARN worker pool on EC2 at its target size using spot and on-demand capacity.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd, planCmd, userDataCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the full configuration of cmd
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(viper.New(), cmd.Flags(), configFile)
}
