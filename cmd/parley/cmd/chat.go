package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/parley-ai/parley/internal/profile"
	"github.com/parley-ai/parley/internal/tui/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start the interactive chat surface. Type a message to run a turn, or
use slash commands (/help lists them) for mode switching, reference
inspection, clipboard and export.`,
	RunE: runChat,
}

var (
	chatSessionID string
	chatUserID    string
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session by id")
	chatCmd.Flags().StringVar(&chatUserID, "user", "local", "user id the session belongs to")
}

func runChat(_ *cobra.Command, _ []string) error {
	rt, err := initRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := context.Background()
	sess, err := rt.svc.Open(ctx, chatSessionID, chatUserID)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	if mode := defaultMode(rt.cfg); mode != "" && sess.State.Preferences.Mode == "" {
		sess.State.Preferences.Mode = mode
	}

	// Background profile refresh runs for the lifetime of the chat.
	if rt.cfg.Profile.Enabled {
		interval, err := parseDurationDefault(rt.cfg.Profile.Interval, profile.DefaultInterval)
		if err != nil {
			return fmt.Errorf("parsing profile.interval %q: %w", rt.cfg.Profile.Interval, err)
		}
		builder := profile.New(profile.Config{
			Store:    rt.store,
			Cache:    rt.cache,
			Bus:      rt.bus,
			Logger:   rt.logger,
			Metrics:  rt.metrics,
			Interval: interval,
		})
		builderCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		builder.Start(builderCtx)
		defer builder.Stop()
	}

	model := chat.New(chat.Options{
		Service: rt.svc,
		Session: sess,
		Bus:     rt.bus,
		Export: func(ctx context.Context, path string) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return rt.store.Export(ctx, path)
		},
		Version: appVersion,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running chat: %w", err)
	}
	return nil
}
