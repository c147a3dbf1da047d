package main

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/pvbridge/internal/bridge"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

//go:embed ex.config.toml
var configTemplate string

func writeTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

// validateConfig loads path and runs the startup phase without connecting.
func validateConfig(path string) error {
	cfg, err := loadServiceConfig(path)
	if err != nil {
		return err
	}
	return bridge.NewService(cfg).Bootstrap()
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate a pvbridge config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the example config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "pvbridge.toml"
			if len(args) == 1 {
				target = args[0]
			}
			if err := writeTemplate(target, force); err != nil {
				return err
			}
			log.Info().Str("path", target).Msg("wrote config template")
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the --config file and run the startup checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(*configPath)
			if path == "" {
				return fmt.Errorf("validate: --config is required")
			}
			if err := validateConfig(path); err != nil {
				return err
			}
			log.Info().Str("path", path).Msg("config valid")
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
