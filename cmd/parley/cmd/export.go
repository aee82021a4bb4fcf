package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/adapters/state"
)

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export the store to a JSON snapshot",
	Long: `Export every stored collection (sessions, turns, entities, profiles)
to a single indented JSON file, regardless of the configured backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Export(ctx, args[0]); err != nil {
		return fmt.Errorf("exporting store: %w", err)
	}
	if !quiet {
		fmt.Println("snapshot written to", args[0])
	}
	return nil
}
