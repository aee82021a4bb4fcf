package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/control"
	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/plan"
	"github.com/parley-ai/parley/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Execute a single turn non-interactively",
	Long: `Execute one turn and print the reply. By default the built-in
conversational plan is used; --plan runs a custom step graph loaded
from a YAML file. With --watch the turn re-runs whenever the plan file
changes, until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runSessionID string
	runUserID    string
	runMode      string
	runPlanPath  string
	runWatch     bool
	runJSON      bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runSessionID, "session", "", "resume an existing session by id")
	runCmd.Flags().StringVar(&runUserID, "user", "local", "user id the session belongs to")
	runCmd.Flags().StringVar(&runMode, "mode", "", "mode override (concise, standard, thorough)")
	runCmd.Flags().StringVar(&runPlanPath, "plan", "", "YAML plan file to execute instead of the built-in plan")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run the turn when the plan file changes (requires --plan)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full turn result as JSON")
}

func runRun(_ *cobra.Command, args []string) error {
	message := args[0]

	override := core.Mode(strings.ToLower(runMode))
	if runMode != "" && !core.ValidMode(override) {
		return fmt.Errorf("invalid mode %q: must be concise, standard or thorough", runMode)
	}
	if runWatch && runPlanPath == "" {
		return fmt.Errorf("--watch requires --plan")
	}

	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	sess, err := rt.svc.Open(ctx, runSessionID, runUserID)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	turnPlan := plan.Conversational(message)
	if runPlanPath != "" {
		turnPlan, err = plan.Load(runPlanPath)
		if err != nil {
			return fmt.Errorf("loading plan: %w", err)
		}
	}

	if err := executeOnce(ctx, rt.svc, sess, turnPlan, message, override); err != nil {
		return err
	}
	if !runWatch {
		return nil
	}

	return watchAndRerun(ctx, rt, sess, message, override)
}

// watchAndRerun re-executes the message against each valid save of the plan
// file until the process is interrupted.
func watchAndRerun(ctx context.Context, rt *runtime, sess *service.Session, message string, override core.Mode) error {
	plans := make(chan core.TurnPlan, 1)
	watcher, err := plan.Watch(runPlanPath, func(p core.TurnPlan) {
		select {
		case plans <- p:
		default:
		}
	}, rt.logger)
	if err != nil {
		return fmt.Errorf("watching plan: %w", err)
	}
	defer watcher.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	if !quiet {
		fmt.Fprintf(os.Stderr, "watching %s, ctrl-c to stop\n", runPlanPath)
	}

	for {
		select {
		case <-sig:
			return nil
		case p := <-plans:
			if !quiet {
				fmt.Fprintln(os.Stderr, "plan changed, re-running turn")
			}
			if err := executeOnce(ctx, rt.svc, sess, p, message, override); err != nil {
				fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			}
		}
	}
}

func executeOnce(ctx context.Context, svc *service.SessionService, sess *service.Session,
	turnPlan core.TurnPlan, message string, override core.Mode) error {

	res, err := svc.ExecuteTurn(ctx, sess, turnPlan, message, override, control.New())
	if err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}

	if runJSON {
		return OutputJSON(res)
	}
	if res.Status != core.TurnStatusCompleted {
		return fmt.Errorf("turn %s: %s", res.Status, res.Reply)
	}
	fmt.Println(res.Reply)
	if !quiet {
		fmt.Fprintf(os.Stderr, "session %s turn %d (%d steps)\n",
			sess.State.ID, sess.State.TurnCount, len(res.Summaries))
	}
	return nil
}
