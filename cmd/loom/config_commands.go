package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"loom/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage loom configuration",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configCmd.AddCommand(newConfigInitCommand(), newConfigShowCommand(), newConfigValidateCommand())
	return configCmd
}

func newConfigShowCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, exists, err := config.Load(path)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if exists {
				fmt.Fprintf(stdout, "# %s\n", resolvedPath)
			} else {
				fmt.Fprintln(stdout, "# defaults (no config file found)")
			}
			encoded, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = stdout.Write(encoded)
			return err
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Configuration file to show (defaults to the standard search path)")
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return err
				}
				target = expanded
			}

			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			}

			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Destination path (defaults to ~/.config/loom/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing config file")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Annotations: map[string]string{
			"skipConfigLoad": "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, exists, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			if exists {
				fmt.Fprintln(stdout, renderStatusLine("Config file", statusOK, resolvedPath, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Config file", statusWarn, "not found, using defaults", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Validation", statusOK, "Configuration is valid", colorize))
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, cfg.Database.Path, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Log directory", statusInfo, cfg.Paths.LogDir, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Staging directory", statusInfo, cfg.Paths.StagingDir, colorize))
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Configuration file to validate (defaults to the standard search path)")
	return cmd
}
