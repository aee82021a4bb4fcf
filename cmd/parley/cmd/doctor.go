package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and backing services",
	Long: `Verify that configuration is valid, the store is reachable, the
profile cache directory is writable and the generation provider is
usable. Also reports host capacity.`,
	RunE: runDoctor,
}

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
}

func runDoctor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := diagnostics.RunDoctor(ctx, cfg)
	if doctorJSON {
		if err := OutputJSON(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if !report.Healthy {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func printReport(report diagnostics.Report) {
	fmt.Println("Checking parley setup...")
	fmt.Println()

	for _, check := range report.Checks {
		icon := "✓"
		switch check.Status {
		case diagnostics.StatusWarn:
			icon = "⚠"
		case diagnostics.StatusFail:
			icon = "✗"
		}
		fmt.Printf("  %s %s", icon, check.Name)
		if check.Detail != "" {
			fmt.Printf(" — %s", check.Detail)
		}
		fmt.Println()
	}

	sys := report.System
	fmt.Println()
	fmt.Printf("  host: %s/%s, %d cpu, %.0f/%.0f MB memory used, %.1f GB disk free\n",
		sys.OS, sys.Arch, sys.CPUCores, sys.MemUsedMB, sys.MemTotalMB, sys.DiskFreeGB)
	for _, gpu := range sys.GPUs {
		fmt.Printf("  gpu: %s %s\n", gpu.Vendor, gpu.Name)
	}

	fmt.Println()
	if report.Healthy {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed; fix the configuration and re-run.")
	}
}
