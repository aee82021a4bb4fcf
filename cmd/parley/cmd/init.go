package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize parley in the current directory",
	Long: `Initialize parley in the current directory. Creates the .parley
directory with a starter configuration file.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(_ *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, config.ProjectDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	dirs := []string{
		config.ProjectDir,
		filepath.Join(config.ProjectDir, "profiles"),
		filepath.Join(config.ProjectDir, "plans"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(cwd, dir), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(configPath, []byte(config.DefaultConfigYAML), 0o644); err != nil { //nolint:gosec // Config file needs to be readable
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("Initialized parley in", cwd)
	fmt.Println("Configuration file:", filepath.Join(config.ProjectDir, "config.yaml"))
	fmt.Println("Run 'parley doctor' to verify setup")

	return nil
}
