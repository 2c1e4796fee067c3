package main

import (
	"fmt"
	"os"

	"memorybank/internal/config"
	"memorybank/pkg/fileops"

	"github.com/spf13/cobra"
)

var (
	configInitPath  string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the memorybank config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Long: `Write the default settings to the config file ($MEMORYBANK_CONFIG or
config.yaml in the XDG config directory), or to --path. An existing file is
left alone unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults := config.DefaultConfig()

		path, exists := config.FindConfigFile()
		if configInitPath != "" {
			path = fileops.ExpandPath(configInitPath)
			_, err := os.Stat(path)
			exists = err == nil
		}
		if exists && !configInitForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}

		var err error
		if configInitPath != "" {
			err = defaults.SaveTo(path)
		} else {
			err = defaults.Save()
		}
		if err != nil {
			return err
		}
		logger.Info("Config file written", "path", path)
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Wrote default config to "+path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "Write to this file instead of the standard location")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
}
