package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and rebuild user profiles",
}

var profileBuildCmd = &cobra.Command{
	Use:   "build [user-id]",
	Short: "Rebuild profiles from stored history",
	Long: `Rebuild the cached profile for one user, or for every user with
stored sessions when no user id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfileBuild,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print the cached profile for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileBuildCmd)
	profileCmd.AddCommand(profileShowCmd)
}

func runProfileBuild(_ *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	builder := profile.New(profile.Config{
		Store:   rt.store,
		Cache:   rt.cache,
		Bus:     rt.bus,
		Logger:  rt.logger,
		Metrics: rt.metrics,
	})

	ctx := context.Background()
	if len(args) == 1 {
		if err := builder.RunNow(ctx, args[0]); err != nil {
			return fmt.Errorf("building profile for %s: %w", args[0], err)
		}
		fmt.Println("profile rebuilt for", args[0])
		return nil
	}

	builder.RunAll(ctx)
	fmt.Println("profile sweep complete")
	return nil
}

func runProfileShow(_ *cobra.Command, args []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	prof, err := rt.cache.Get(context.Background(), args[0])
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return fmt.Errorf("no cached profile for %s; run 'parley profile build %s' first", args[0], args[0])
		}
		return fmt.Errorf("reading profile: %w", err)
	}
	return OutputJSON(prof)
}
